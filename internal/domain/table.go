package domain

import (
	"fmt"
	"strings"
	"time"
)

// FieldType is the storage type of a table column. The names match the
// DuckDB type vocabulary so they can be used verbatim in DDL.
type FieldType string

const (
	FieldTypeVarchar   FieldType = "VARCHAR"
	FieldTypeBigint    FieldType = "BIGINT"
	FieldTypeDouble    FieldType = "DOUBLE"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
)

// Column describes one column of an in-memory table.
type Column struct {
	Name string
	Type FieldType
}

// Table is an in-memory typed table produced by file ingestion. Cell values
// are nil, string, int64, float64, bool or time.Time depending on the
// column type; a nil cell is a null.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has a column with the exact name.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// RenameColumn renames a column in place. Renaming a missing column is a
// no-op; renaming onto an existing name is an error.
func (t *Table) RenameColumn(from, to string) error {
	idx := t.ColumnIndex(from)
	if idx < 0 {
		return nil
	}
	if t.HasColumn(to) {
		return fmt.Errorf("cannot rename column %q: column %q already exists", from, to)
	}
	t.Columns[idx].Name = to
	return nil
}

// FirstNonNull returns the first non-null, non-blank value of the column.
func (t *Table) FirstNonNull(col int) (any, bool) {
	if col < 0 || col >= len(t.Columns) {
		return nil, false
	}
	for _, row := range t.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		if s, ok := row[col].(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return row[col], true
	}
	return nil, false
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// TimestampPrecision reports whether any value of the given timestamp
// column carries sub-second precision.
func (t *Table) TimestampPrecision(col int) bool {
	if col < 0 || col >= len(t.Columns) {
		return false
	}
	for _, row := range t.Rows {
		if col >= len(row) {
			continue
		}
		if ts, ok := row[col].(time.Time); ok && ts.Nanosecond() != 0 {
			return true
		}
	}
	return false
}
