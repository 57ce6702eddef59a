package scheduler

import (
	"context"
	"fmt"
	"time"

	"guild-bridge/internal/config"
	"guild-bridge/internal/domain"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// BatchRunner enriches one batch and writes it as a single bulk update.
type BatchRunner interface {
	RunBatch(ctx context.Context, batch []domain.Identity) error
}

type Scheduler struct {
	runner     BatchRunner
	clock      quartz.Clock
	batchSize  int
	batchDelay time.Duration
	cycleDelay time.Duration
	logger     zerolog.Logger
}

func NewScheduler(cfg *config.Config, runner BatchRunner, clock quartz.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		clock:      clock,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		cycleDelay: cfg.CycleDelay,
		logger:     logger,
	}
}

// Start is the initial state, holding the first cycle back by delay.
func (s *Scheduler) Start(delay time.Duration) ScheduleState {
	return NewState(s.clock.Now().Add(delay))
}

// Tick advances the state machine by at most one batch. Before
// NextEventTime it is a no-op. With an empty queue it starts a cycle from
// roster, or stays idle and blocked when roster is empty. A popped batch is
// filtered against roster so members pruned mid-cycle are skipped. The
// returned state is valid even when the batch run failed; the error is for
// the caller to log.
func (s *Scheduler) Tick(ctx context.Context, st ScheduleState, roster domain.Roster) (ScheduleState, error) {
	now := s.clock.Now()
	if now.Before(st.NextEventTime) {
		return st, nil
	}

	next := st.clone()

	if len(next.Queue) == 0 {
		if roster.Empty() {
			next.State = StateIdle
			next.Blocked = true
			return next, nil
		}

		next.Queue = Partition(roster.Members(), s.batchSize)
		next.TotalBatches = len(next.Queue)
		next.CurrentBatch = 0
		next.State = StateCycleStarting
		next.Blocked = false

		s.logger.Info().
			Int("cycle", next.CyclesCompleted+1).
			Int("members", roster.Len()).
			Int("batches", next.TotalBatches).
			Msg("starting enrichment cycle")
	}

	batch := next.Queue[0]
	next.Queue = next.Queue[1:]
	next.CurrentBatch++
	next.State = StateBatchRunning

	batch = filterBatch(batch, roster)
	s.logger.Info().
		Int("batch", next.CurrentBatch).
		Int("total", next.TotalBatches).
		Int("size", len(batch)).
		Msg("running batch")

	var runErr error
	if len(batch) > 0 {
		if err := s.runner.RunBatch(ctx, batch); err != nil {
			runErr = fmt.Errorf("batch %d/%d: %w", next.CurrentBatch, next.TotalBatches, err)
		}
	}

	done := s.clock.Now()
	if len(next.Queue) > 0 {
		next.State = StateBatchCooldown
		next.NextEventTime = done.Add(s.batchDelay)
	} else {
		next.CyclesCompleted++
		next.State = StateCycleCooldown
		next.NextEventTime = done.Add(s.cycleDelay)
		s.logger.Info().
			Int("cycles_completed", next.CyclesCompleted).
			Dur("rest", s.cycleDelay).
			Msg("enrichment cycle completed")
	}

	return next, runErr
}

// filterBatch keeps the members still in roster. An empty roster means
// unknown membership, so the batch is kept whole.
func filterBatch(batch []domain.Identity, roster domain.Roster) []domain.Identity {
	if roster.Empty() {
		return batch
	}
	out := batch[:0:0]
	for _, id := range batch {
		if roster.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
