package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guild-bridge/internal/sink"

	"github.com/rs/zerolog"
)

// TableRepository stores sink tables in sqlite, one row per sink row with
// its cells as a JSON array. It backs the "sqlite" sink driver.
type TableRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTableRepository(sqlDB *sql.DB, logger zerolog.Logger) *TableRepository {
	return &TableRepository{db: sqlDB, logger: logger}
}

var _ sink.Sink = (*TableRepository)(nil)

func (r *TableRepository) EnsureTable(ctx context.Context, table sink.Table) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sink_tables (name, key_column) VALUES (?, ?)`,
		table.Name, table.KeyColumn)
	if err != nil {
		return fmt.Errorf("failed to create table %q: %w", table.Name, err)
	}
	if created, _ := res.RowsAffected(); created > 0 {
		r.logger.Info().Str("table", table.Name).Msg("table created")
	}

	if len(table.Header) > 0 {
		var rows int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sink_rows WHERE table_name = ?`, table.Name).Scan(&rows); err != nil {
			return fmt.Errorf("failed to count rows: %w", err)
		}
		if rows == 0 {
			if err := putRow(ctx, tx, table.Name, 1, sink.Row(table.Header)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (r *TableRepository) ListRows(ctx context.Context, table string) ([]sink.Row, error) {
	if err := tableExists(ctx, r.db, table); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT position, cells FROM sink_rows WHERE table_name = ? ORDER BY position, id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var out []sink.Row
	for rows.Next() {
		var (
			position int
			cells    string
		)
		if err := rows.Scan(&position, &cells); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row, err := decodeCells(cells)
		if err != nil {
			return nil, err
		}
		for len(out) < position-1 {
			out = append(out, sink.Row{})
		}
		if len(out) >= position {
			out[position-1] = row
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *TableRepository) Upsert(ctx context.Context, table sink.Table, key string, values []any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tableExists(ctx, tx, table.Name); err != nil {
		return err
	}

	existing, err := loadRows(ctx, tx, table.Name)
	if err != nil {
		return err
	}
	position := 0
	last := 0
	for pos, row := range existing {
		if pos > 1 && row.Cell(table.KeyColumn) == key {
			position = pos
		}
		last = max(last, pos)
	}
	if position == 0 {
		position = last + 1
	}

	if err := putRow(ctx, tx, table.Name, position, textRow(values)); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *TableRepository) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	if rowIndex < 1 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tableExists(ctx, tx, table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sink_rows WHERE table_name = ? AND position = ?`, table, rowIndex); err != nil {
		return fmt.Errorf("failed to delete row %d: %w", rowIndex, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sink_rows SET position = position - 1 WHERE table_name = ? AND position > ?`, table, rowIndex); err != nil {
		return fmt.Errorf("failed to shift rows after %d: %w", rowIndex, err)
	}
	return tx.Commit()
}

func (r *TableRepository) AppendRow(ctx context.Context, table string, rows ...[]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tableExists(ctx, tx, table); err != nil {
		return err
	}
	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM sink_rows WHERE table_name = ?`, table).Scan(&last); err != nil {
		return fmt.Errorf("failed to find last row: %w", err)
	}
	for i, values := range rows {
		if err := putRow(ctx, tx, table, last+1+i, textRow(values)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// BulkWrite applies every update inside one transaction.
func (r *TableRepository) BulkWrite(ctx context.Context, table string, updates []sink.Update) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tableExists(ctx, tx, table); err != nil {
		return err
	}
	existing, err := loadRows(ctx, tx, table)
	if err != nil {
		return err
	}

	for _, u := range updates {
		if u.Range.Row < 1 || u.Range.Col < 0 {
			return fmt.Errorf("invalid range row=%d col=%d", u.Range.Row, u.Range.Col)
		}
		for i, vals := range u.Values {
			position := u.Range.Row + i
			row := existing[position]
			for len(row) < u.Range.Col+len(vals) {
				row = append(row, "")
			}
			for j, v := range vals {
				row[u.Range.Col+j] = sink.CellText(v)
			}
			existing[position] = row
			if err := putRow(ctx, tx, table, position, row); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk write: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableExists(ctx context.Context, q querier, table string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sink_tables WHERE name = ?`, table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sink.ErrTableNotFound, table)
	}
	if err != nil {
		return fmt.Errorf("failed to look up table %q: %w", table, err)
	}
	return nil
}

func loadRows(ctx context.Context, q querier, table string) (map[int]sink.Row, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT position, cells FROM sink_rows WHERE table_name = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}
	defer rows.Close()

	out := make(map[int]sink.Row)
	for rows.Next() {
		var (
			position int
			cells    string
		)
		if err := rows.Scan(&position, &cells); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row, err := decodeCells(cells)
		if err != nil {
			return nil, err
		}
		out[position] = row
	}
	return out, rows.Err()
}

// putRow replaces the row at position, inserting it when absent.
func putRow(ctx context.Context, tx *sql.Tx, table string, position int, row sink.Row) error {
	cells, err := json.Marshal([]string(row))
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE sink_rows SET cells = ?, updated_at = ? WHERE table_name = ? AND position = ?`,
		string(cells), now, table, position)
	if err != nil {
		return fmt.Errorf("failed to update row %d: %w", position, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sink_rows (table_name, position, cells, updated_at) VALUES (?, ?, ?, ?)`,
		table, position, string(cells), now); err != nil {
		return fmt.Errorf("failed to insert row %d: %w", position, err)
	}
	return nil
}

func decodeCells(cells string) (sink.Row, error) {
	var row []string
	if err := json.Unmarshal([]byte(cells), &row); err != nil {
		return nil, fmt.Errorf("failed to decode row cells: %w", err)
	}
	return sink.Row(row), nil
}

func textRow(values []any) sink.Row {
	row := make(sink.Row, len(values))
	for i, v := range values {
		row[i] = sink.CellText(v)
	}
	return row
}
