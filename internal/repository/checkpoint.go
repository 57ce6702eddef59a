package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guild-bridge/internal/scheduler"

	"github.com/rs/zerolog"
)

// Checkpoint is the persisted scheduler position.
type Checkpoint struct {
	State           string
	Blocked         bool
	CurrentBatch    int
	TotalBatches    int
	QueuedBatches   int
	CyclesCompleted int
	NextEventAt     time.Time
	UpdatedAt       time.Time
}

func CheckpointFrom(st scheduler.ScheduleState, now time.Time) Checkpoint {
	return Checkpoint{
		State:           st.State.String(),
		Blocked:         st.Blocked,
		CurrentBatch:    st.CurrentBatch,
		TotalBatches:    st.TotalBatches,
		QueuedBatches:   len(st.Queue),
		CyclesCompleted: st.CyclesCompleted,
		NextEventAt:     st.NextEventTime,
		UpdatedAt:       now,
	}
}

type CheckpointRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCheckpointRepository(sqlDB *sql.DB, logger zerolog.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: sqlDB, logger: logger}
}

func (r *CheckpointRepository) Save(ctx context.Context, cp Checkpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_checkpoints (
			id, state, blocked, current_batch, total_batches, queued_batches,
			cycles_completed, next_event_at, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			blocked = excluded.blocked,
			current_batch = excluded.current_batch,
			total_batches = excluded.total_batches,
			queued_batches = excluded.queued_batches,
			cycles_completed = excluded.cycles_completed,
			next_event_at = excluded.next_event_at,
			updated_at = excluded.updated_at`,
		cp.State, cp.Blocked, cp.CurrentBatch, cp.TotalBatches, cp.QueuedBatches,
		cp.CyclesCompleted, cp.NextEventAt.UTC(), cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last checkpoint, or false when none was saved yet.
func (r *CheckpointRepository) Load(ctx context.Context) (Checkpoint, bool, error) {
	var cp Checkpoint
	err := r.db.QueryRowContext(ctx, `
		SELECT state, blocked, current_batch, total_batches, queued_batches,
			cycles_completed, next_event_at, updated_at
		FROM schedule_checkpoints WHERE id = 1`).Scan(
		&cp.State, &cp.Blocked, &cp.CurrentBatch, &cp.TotalBatches, &cp.QueuedBatches,
		&cp.CyclesCompleted, &cp.NextEventAt, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, true, nil
}
