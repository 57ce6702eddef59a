// Package sink defines the row-oriented persistence contract shared by the
// spreadsheet and sqlite backends.
package sink

import (
	"context"
	"errors"
	"fmt"
)

var ErrTableNotFound = errors.New("table not found")

// Row is one stored row, cells rendered as text. Rows are addressed by a
// 1-based index; row 1 is the header.
type Row []string

// Cell returns the cell at col or "" when the row is shorter.
func (r Row) Cell(col int) string {
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// Table describes one logical table and the column holding its identity.
type Table struct {
	Name      string
	KeyColumn int
	Header    []string

	// Rows and Cols size a freshly created spreadsheet tab.
	Rows int
	Cols int
}

// Range anchors a write at a 1-based row and a 0-based starting column.
type Range struct {
	Row int
	Col int
}

// Update is one block of values written at Range, one inner slice per row.
type Update struct {
	Range  Range
	Values [][]any
}

// Sink is the persistence collaborator. BulkWrite must apply all updates
// as a single call so a batch is either written whole or not at all, and
// may write past the current last row. AppendRow adds rows after the last
// one, also in a single call.
type Sink interface {
	EnsureTable(ctx context.Context, table Table) error
	ListRows(ctx context.Context, table string) ([]Row, error)
	Upsert(ctx context.Context, table Table, key string, values []any) error
	DeleteRow(ctx context.Context, table string, rowIndex int) error
	AppendRow(ctx context.Context, table string, rows ...[]any) error
	BulkWrite(ctx context.Context, table string, updates []Update) error
}

// TableError isolates a failure to one table and one operation.
type TableError struct {
	Table string
	Op    string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

func WrapErr(table, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TableError{Table: table, Op: op, Err: err}
}

// KeyIndex maps the text in the key column to its 1-based row index,
// skipping the header.
func KeyIndex(rows []Row, keyColumn int) map[string]int {
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if key := row.Cell(keyColumn); key != "" {
			index[key] = i + 1
		}
	}
	return index
}

// CellText renders a value the way both backends store it.
func CellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
