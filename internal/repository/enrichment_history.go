package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// HistoryEntry is one recorded fetch outcome.
type HistoryEntry struct {
	ID                string
	Identity          string
	Outcome           string
	StatusCode        int
	Score             float64
	BestRun           string
	Class             string
	Spec              string
	Role              string
	AchievementPoints int
	Error             string
	FetchedAt         time.Time
}

type EnrichmentHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewEnrichmentHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *EnrichmentHistoryRepository {
	return &EnrichmentHistoryRepository{db: sqlDB, logger: logger}
}

func (r *EnrichmentHistoryRepository) InsertBatch(ctx context.Context, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO enrichment_history (
			id, identity, outcome, status_code, score, best_run, class, spec, role,
			achievement_points, error, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		id := e.ID
		if id == "" {
			id, err = gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			id, e.Identity, e.Outcome, e.StatusCode, e.Score, e.BestRun, e.Class, e.Spec, e.Role,
			e.AchievementPoints, e.Error, e.FetchedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert history for %s: %w", e.Identity, err)
		}
	}

	return tx.Commit()
}

// ListByIdentity returns the newest entries first.
func (r *EnrichmentHistoryRepository) ListByIdentity(ctx context.Context, identity string, limit int) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity, outcome, status_code, score, best_run, class, spec, role,
			achievement_points, error, fetched_at
		FROM enrichment_history
		WHERE identity = ?
		ORDER BY fetched_at DESC, id
		LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Identity, &e.Outcome, &e.StatusCode, &e.Score, &e.BestRun,
			&e.Class, &e.Spec, &e.Role, &e.AchievementPoints, &e.Error, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByOutcome summarises the history since a point in time.
func (r *EnrichmentHistoryRepository) CountByOutcome(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM enrichment_history
		WHERE fetched_at >= ?
		GROUP BY outcome`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
