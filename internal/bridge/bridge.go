// Package bridge drives the single polling loop: every tick reads a changed
// snapshot, applies it to the sink, advances the enrichment scheduler and
// redraws the status line.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"guild-bridge/internal/config"
	"guild-bridge/internal/domain"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/repository"
	"guild-bridge/internal/scheduler"
	"guild-bridge/internal/service"
	"guild-bridge/internal/status"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

type SnapshotSource interface {
	HasChanged() bool
	Read(ctx context.Context) (domain.Snapshot, error)
}

type SnapshotApplier interface {
	Apply(ctx context.Context, snap domain.Snapshot, roster domain.Roster) (service.SyncReport, error)
}

type Scheduler interface {
	Start(delay time.Duration) scheduler.ScheduleState
	Tick(ctx context.Context, st scheduler.ScheduleState, roster domain.Roster) (scheduler.ScheduleState, error)
}

type CheckpointStore interface {
	Save(ctx context.Context, cp repository.Checkpoint) error
	Load(ctx context.Context) (repository.Checkpoint, bool, error)
}

// Deps are the collaborators of a Bridge. Wake, Checkpoints and Status are
// optional.
type Deps struct {
	Config      *config.Config
	Source      SnapshotSource
	Applier     SnapshotApplier
	Scheduler   Scheduler
	Checkpoints CheckpointStore
	Wake        <-chan struct{}
	Status      *status.Renderer
	Clock       quartz.Clock
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Status is the machine-readable view of the loop served on /status.
type Status struct {
	State           string    `json:"state"`
	Detail          string    `json:"detail"`
	Blocked         bool      `json:"blocked"`
	Cycle           int       `json:"cycle"`
	CyclesCompleted int       `json:"cycles_completed"`
	CurrentBatch    int       `json:"current_batch"`
	TotalBatches    int       `json:"total_batches"`
	QueuedBatches   int       `json:"queued_batches"`
	NextEventAt     time.Time `json:"next_event_at"`
	RemainingSec    int       `json:"remaining_seconds"`
	RosterSize      int       `json:"roster_size"`
	LastSnapshotAt  time.Time `json:"last_snapshot_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

type Bridge struct {
	cfg         *config.Config
	source      SnapshotSource
	applier     SnapshotApplier
	sched       Scheduler
	checkpoints CheckpointStore
	wake        <-chan struct{}
	renderer    *status.Renderer
	clock       quartz.Clock
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu           sync.RWMutex
	state        scheduler.ScheduleState
	roster       domain.Roster
	lastSnapshot time.Time
	lastErr      error

	// pending is the last snapshot read whose apply has not succeeded yet.
	// Only Tick touches it.
	pending *domain.Snapshot
}

func New(d Deps) *Bridge {
	return &Bridge{
		cfg:         d.Config,
		source:      d.Source,
		applier:     d.Applier,
		sched:       d.Scheduler,
		checkpoints: d.Checkpoints,
		wake:        d.Wake,
		renderer:    d.Status,
		clock:       d.Clock,
		metrics:     d.Metrics,
		logger:      d.Logger.With().Str("component", "bridge").Logger(),
		state:       d.Scheduler.Start(d.Config.SafetyStartDelay),
	}
}

// Tick performs one pass of the loop. A snapshot that fails to decode is
// skipped and the last known roster is kept. A snapshot with an empty
// roster never replaces a non-empty one. A snapshot whose apply failed is
// applied again on every tick until it succeeds or a newer one is read.
func (b *Bridge) Tick(ctx context.Context) error {
	var errs []error

	if b.source.HasChanged() {
		if err := b.readSnapshot(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if b.pending != nil {
		b.logger.Debug().Time("mod_time", b.pending.ModTime).Msg("retrying pending snapshot")
		if err := b.applyPending(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	b.mu.RLock()
	prev, roster := b.state, b.roster
	b.mu.RUnlock()

	next, err := b.sched.Tick(ctx, prev, roster)
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if next.CyclesCompleted > prev.CyclesCompleted {
		b.metrics.Cycles.Add(float64(next.CyclesCompleted - prev.CyclesCompleted))
	}

	tickErr := errors.Join(errs...)
	b.mu.Lock()
	b.state = next
	b.lastErr = tickErr
	b.mu.Unlock()

	if changed(prev, next) {
		b.saveCheckpoint(ctx, next)
	}
	b.drawStatus(next)
	return tickErr
}

func (b *Bridge) readSnapshot(ctx context.Context) error {
	snap, err := b.source.Read(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySnapshot) {
			b.logger.Debug().Msg("addon file is empty, skipping")
			return nil
		}
		b.metrics.ParseErrors.Inc()
		b.logger.Warn().Err(err).Msg("snapshot unreadable, keeping last known state")
		return nil
	}

	b.clearStatus()
	b.mu.Lock()
	if snap.HasRoster && !snap.Roster.Empty() {
		b.roster = snap.Roster
	} else if snap.HasRoster {
		b.logger.Warn().Int("kept", b.roster.Len()).Msg("snapshot roster is empty, keeping previous roster")
	}
	b.lastSnapshot = b.clock.Now()
	b.mu.Unlock()

	b.pending = &snap
	return b.applyPending(ctx)
}

func (b *Bridge) applyPending(ctx context.Context) error {
	b.mu.RLock()
	roster := b.roster
	b.mu.RUnlock()

	if _, err := b.applier.Apply(ctx, *b.pending, roster); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	b.pending = nil
	return nil
}

func changed(a, b scheduler.ScheduleState) bool {
	return a.State != b.State ||
		a.Blocked != b.Blocked ||
		a.CurrentBatch != b.CurrentBatch ||
		a.TotalBatches != b.TotalBatches ||
		a.CyclesCompleted != b.CyclesCompleted ||
		len(a.Queue) != len(b.Queue) ||
		!a.NextEventTime.Equal(b.NextEventTime)
}

func (b *Bridge) saveCheckpoint(ctx context.Context, st scheduler.ScheduleState) {
	if b.checkpoints == nil {
		return
	}
	if err := b.checkpoints.Save(ctx, repository.CheckpointFrom(st, b.clock.Now())); err != nil {
		b.logger.Warn().Err(err).Msg("failed to save schedule checkpoint")
	}
}

// restore carries the cycle count over from the last run. Queues are not
// resumed; the first cycle always starts from a fresh roster.
func (b *Bridge) restore(ctx context.Context) {
	if b.checkpoints == nil {
		return
	}
	cp, ok, err := b.checkpoints.Load(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to load schedule checkpoint")
		return
	}
	if !ok {
		return
	}
	b.mu.Lock()
	b.state.CyclesCompleted = cp.CyclesCompleted
	b.mu.Unlock()
	b.logger.Info().Int("cycles_completed", cp.CyclesCompleted).Msg("schedule checkpoint restored")
}

func (b *Bridge) drawStatus(st scheduler.ScheduleState) {
	if b.renderer == nil {
		return
	}
	_ = b.renderer.Draw(status.LineFor(st, b.clock.Now()))
}

func (b *Bridge) clearStatus() {
	if b.renderer != nil {
		_ = b.renderer.Clear()
	}
}

// Run ticks every poll interval, and immediately on a wake-up, until ctx is
// done. After a failed tick the next one waits out an exponential backoff.
// A tick in progress always completes, so a batch is written whole or not
// at all.
func (b *Bridge) Run(ctx context.Context) error {
	b.restore(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ErrorBackoff
	bo.MaxInterval = b.cfg.ErrorBackoffMax
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	bo.Clock = backoffClock{b.clock}
	bo.Reset()

	ticker := b.clock.NewTicker(b.cfg.PollInterval, "bridge", "poll")
	defer ticker.Stop()

	b.logger.Info().
		Dur("poll_interval", b.cfg.PollInterval).
		Dur("start_delay", b.cfg.SafetyStartDelay).
		Msg("bridge loop started")

	for {
		if err := b.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.metrics.TickErrors.Inc()
			wait := bo.NextBackOff()
			b.clearStatus()
			b.logger.Error().Err(err).Dur("retry_in", wait).Msg("tick failed")

			timer := b.clock.NewTimer(wait, "bridge", "backoff")
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		bo.Reset()

		select {
		case <-ctx.Done():
			b.clearStatus()
			b.logger.Info().Msg("bridge loop stopped")
			return nil
		case <-ticker.C:
		case <-b.wake:
			b.logger.Debug().Msg("addon file changed")
		}
	}
}

// backoffClock satisfies backoff.Clock, whose Now takes no tags.
type backoffClock struct{ quartz.Clock }

func (c backoffClock) Now() time.Time { return c.Clock.Now("bridge", "backoff") }

func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := b.state
	out := Status{
		State:           st.State.String(),
		Detail:          st.Status(),
		Blocked:         st.Blocked,
		Cycle:           st.CyclesCompleted + 1,
		CyclesCompleted: st.CyclesCompleted,
		CurrentBatch:    st.CurrentBatch,
		TotalBatches:    st.TotalBatches,
		QueuedBatches:   len(st.Queue),
		NextEventAt:     st.NextEventTime,
		RemainingSec:    int(st.Remaining(b.clock.Now()) / time.Second),
		RosterSize:      b.roster.Len(),
		LastSnapshotAt:  b.lastSnapshot,
	}
	if b.lastErr != nil {
		out.LastError = b.lastErr.Error()
	}
	return out
}
