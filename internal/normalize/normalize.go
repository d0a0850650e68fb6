package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// Lookup resolves a dotted path (e.g. "point.media.id") against a nested
// record by descending the mapping one component at a time. A missing
// component, or a value that is not itself a mapping, yields def. Missing
// data is an expected condition with this schema, not a failure.
func Lookup(rec map[string]any, dotted string, def string) string {
	var cur any = rec
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[part]
		if !ok {
			return def
		}
	}
	return Format(cur, def)
}

// FirstLookup tries each dotted path in order and returns the first value
// present. Upstream deployments spell the same field differently, so callers
// pass the candidate spellings rather than a single accessor.
func FirstLookup(rec map[string]any, dotted []string, def string) string {
	for _, path := range dotted {
		if v := Lookup(rec, path, ""); v != "" {
			return v
		}
	}
	return def
}

// Format renders a decoded JSON value as a flat cell. Integral floats are
// rendered without a decimal point so identifiers survive the float64 round
// trip through encoding/json.
func Format(v any, def string) string {
	switch val := v.(type) {
	case nil:
		return def
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		// Nested structures that were not asked for by a deeper path are
		// carried as compact JSON rather than dropped.
		b, err := json.Marshal(val)
		if err != nil {
			return def
		}
		return string(b)
	}
}

// Project flattens one nested record into a row with one cell per requested
// dotted field, preserving the caller's field order.
func Project(rec map[string]any, fields []string, def string) []string {
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = Lookup(rec, f, def)
	}
	return row
}

// Records flattens a slice of nested records into a table over the requested
// fields, one row per record, in the order received.
func Records(recs []map[string]any, fields []string) table.Table {
	t := table.New(fields)
	for _, rec := range recs {
		t.Append(Project(rec, fields, ""))
	}
	return t
}
