// Package reconcile enforces referential consistency between an annotation
// table and the media collection it is supposed to belong to.
package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// ErrNoMediaIDColumn is returned when no column in an annotation table can
// be identified as the owning media's identifier.
var ErrNoMediaIDColumn = errors.New("could not find a media-id column in annotations")

// Canonical media-id column suffixes, in preference order. The annotation
// schema is not stable across deployments; conventionally named columns win
// over loose pattern matches.
var mediaIDSuffixes = []string{
	"point.media.id",
	"media.id",
	"media_id",
	"point_media_id",
}

const maxReportedColumns = 20

// DetectMediaIDColumn identifies which column of an annotation table carries
// the owning media's identifier. Detection is deterministic for a fixed
// column set: canonical suffixes are checked first in column order, then any
// column containing both "media" and "id".
func DetectMediaIDColumn(columns []string) (string, error) {
	for _, c := range columns {
		cl := strings.ToLower(c)
		for _, suffix := range mediaIDSuffixes {
			if strings.HasSuffix(cl, suffix) {
				return c, nil
			}
		}
	}
	for _, c := range columns {
		cl := strings.ToLower(c)
		if strings.Contains(cl, "media") && strings.Contains(cl, "id") {
			return c, nil
		}
	}
	report := columns
	if len(report) > maxReportedColumns {
		report = report[:maxReportedColumns]
	}
	return "", fmt.Errorf("%w: first columns %v", ErrNoMediaIDColumn, report)
}

// CoerceID parses a cell as an integer identifier. Integral floats are
// accepted ("123.0" -> 123) because numeric columns can arrive float-typed
// from the CSV path. Anything else is not an identifier.
func CoerceID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// MediaIDSet derives the authoritative set of media identifiers from a media
// table. The table must carry an "id" column; rows whose id does not parse
// are skipped.
func MediaIDSet(media table.Table) (map[int64]struct{}, error) {
	idx := media.ColumnIndex("id")
	if idx < 0 {
		return nil, fmt.Errorf("media table has no id column (columns: %v)", media.Columns)
	}
	ids := make(map[int64]struct{}, len(media.Rows))
	for _, row := range media.Rows {
		if id, ok := CoerceID(row[idx]); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// FilterToMedia retains only annotation rows whose detected media-id column,
// coerced to an integer, is a member of mediaIDs. Coercion failures are
// non-membership, not errors; such rows are dropped silently. An empty table
// passes through unchanged. This is the guarantee that no annotation leaks
// across collection boundaries.
func FilterToMedia(ann table.Table, mediaIDs map[int64]struct{}) (table.Table, error) {
	if ann.IsEmpty() {
		return ann, nil
	}
	col, err := DetectMediaIDColumn(ann.Columns)
	if err != nil {
		return table.Table{}, err
	}
	idx := ann.ColumnIndex(col)

	out := table.New(ann.Columns)
	for _, row := range ann.Rows {
		id, ok := CoerceID(row[idx])
		if !ok {
			continue
		}
		if _, member := mediaIDs[id]; member {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
