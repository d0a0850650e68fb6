package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Table is an ordered-column flat table. Cells are strings the way they
// arrive from a CSV payload; numeric interpretation is left to callers.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given column order.
func New(columns []string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

// IsEmpty reports whether the table has no rows.
func (t Table) IsEmpty() bool {
	return len(t.Rows) == 0
}

// ColumnIndex returns the position of the named column, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column is present.
func (t Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Append adds a row. Short rows are padded so every row matches the column
// count; long rows are truncated.
func (t *Table) Append(row []string) {
	switch {
	case len(row) < len(t.Columns):
		padded := make([]string, len(t.Columns))
		copy(padded, row)
		row = padded
	case len(row) > len(t.Columns):
		row = row[:len(t.Columns)]
	}
	t.Rows = append(t.Rows, row)
}

// Cell returns the value at (row, column name), or "" when the column is
// absent.
func (t Table) Cell(row int, name string) string {
	idx := t.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][idx]
}

// Select returns a table restricted to the requested columns, keeping the
// caller's order. Requested columns that are not present are silently
// dropped; a server that ignored an inclusion list is not an error.
func (t Table) Select(columns []string) Table {
	var kept []string
	var idx []int
	for _, c := range columns {
		if i := t.ColumnIndex(c); i >= 0 {
			kept = append(kept, c)
			idx = append(idx, i)
		}
	}
	if len(kept) == 0 {
		return t
	}
	out := New(kept)
	for _, row := range t.Rows {
		cells := make([]string, len(idx))
		for j, i := range idx {
			cells[j] = row[i]
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

// SetConstant sets every row's value in the named column, appending the
// column if it does not exist yet. Used for provenance decoration.
func (t *Table) SetConstant(name, value string) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], value)
		}
		return
	}
	for i := range t.Rows {
		t.Rows[i][idx] = value
	}
}

// WriteCSV writes the table with a header row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table as a CSV file at path.
func (t Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	return t.WriteCSV(f)
}

// ReadCSV parses a CSV payload with a header row into a table. Row order is
// preserved as received.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	t := New(header)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("failed to read CSV row: %w", err)
		}
		t.Append(row)
	}
	return t, nil
}
