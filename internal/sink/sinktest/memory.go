// Package sinktest provides an in-memory sink.Sink for tests.
package sinktest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guild-bridge/internal/sink"
)

var ErrInjected = errors.New("injected failure")

// Memory keeps every table as a slice of rows. Failures can be injected per
// table and operation name ("list", "delete", "append", "bulk", "ensure",
// "upsert").
type Memory struct {
	mu      sync.Mutex
	tables  map[string][]sink.Row
	fail    map[string]error
	Deleted  map[string][]int
	Bulk     map[string]int
	Appended map[string]int
}

func New() *Memory {
	return &Memory{
		tables:  make(map[string][]sink.Row),
		fail:    make(map[string]error),
		Deleted:  make(map[string][]int),
		Bulk:     make(map[string]int),
		Appended: make(map[string]int),
	}
}

// Seed replaces a table's rows.
func (m *Memory) Seed(table string, rows ...sink.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sink.Row, len(rows))
	for i, r := range rows {
		cp[i] = append(sink.Row(nil), r...)
	}
	m.tables[table] = cp
}

func (m *Memory) Fail(table, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	m.fail[table+"/"+op] = err
}

// Rows returns a copy of a table's rows.
func (m *Memory) Rows(table string) []sink.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.Row, len(m.tables[table]))
	for i, r := range m.tables[table] {
		out[i] = append(sink.Row(nil), r...)
	}
	return out
}

func (m *Memory) check(table, op string) error {
	return m.fail[table+"/"+op]
}

func (m *Memory) EnsureTable(_ context.Context, table sink.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table.Name, "ensure"); err != nil {
		return err
	}
	rows := m.tables[table.Name]
	if len(rows) == 0 && len(table.Header) > 0 {
		rows = []sink.Row{append(sink.Row(nil), table.Header...)}
	}
	m.tables[table.Name] = rows
	return nil
}

func (m *Memory) ListRows(_ context.Context, table string) ([]sink.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table, "list"); err != nil {
		return nil, err
	}
	rows, ok := m.tables[table]
	if !ok {
		return nil, sink.ErrTableNotFound
	}
	out := make([]sink.Row, len(rows))
	for i, r := range rows {
		out[i] = append(sink.Row(nil), r...)
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, table sink.Table, key string, values []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table.Name, "upsert"); err != nil {
		return err
	}
	rows := m.tables[table.Name]
	row := toRow(values)
	for i := 1; i < len(rows); i++ {
		if rows[i].Cell(table.KeyColumn) == key {
			rows[i] = row
			return nil
		}
	}
	m.tables[table.Name] = append(rows, row)
	return nil
}

func (m *Memory) DeleteRow(_ context.Context, table string, rowIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table, "delete"); err != nil {
		return err
	}
	rows := m.tables[table]
	if rowIndex < 1 || rowIndex > len(rows) {
		return fmt.Errorf("row %d out of range", rowIndex)
	}
	m.tables[table] = append(rows[:rowIndex-1], rows[rowIndex:]...)
	m.Deleted[table] = append(m.Deleted[table], rowIndex)
	return nil
}

func (m *Memory) AppendRow(_ context.Context, table string, rows ...[]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table, "append"); err != nil {
		return err
	}
	for _, values := range rows {
		m.tables[table] = append(m.tables[table], toRow(values))
	}
	m.Appended[table]++
	return nil
}

func (m *Memory) BulkWrite(_ context.Context, table string, updates []sink.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(table, "bulk"); err != nil {
		return err
	}
	rows := m.tables[table]
	for _, u := range updates {
		for i, vals := range u.Values {
			idx := u.Range.Row - 1 + i
			for len(rows) <= idx {
				rows = append(rows, sink.Row{})
			}
			row := rows[idx]
			for len(row) < u.Range.Col+len(vals) {
				row = append(row, "")
			}
			for j, v := range vals {
				row[u.Range.Col+j] = sink.CellText(v)
			}
			rows[idx] = row
		}
	}
	m.tables[table] = rows
	m.Bulk[table]++
	return nil
}

func toRow(values []any) sink.Row {
	row := make(sink.Row, len(values))
	for i, v := range values {
		row[i] = sink.CellText(v)
	}
	return row
}

var _ sink.Sink = (*Memory)(nil)
