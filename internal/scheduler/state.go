// Package scheduler paces enrichment over the roster in time-boxed batches.
package scheduler

import (
	"fmt"
	"time"

	"guild-bridge/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateCycleStarting
	StateBatchRunning
	StateBatchCooldown
	StateCycleCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCycleStarting:
		return "CYCLE_STARTING"
	case StateBatchRunning:
		return "BATCH_RUNNING"
	case StateBatchCooldown:
		return "BATCH_COOLDOWN"
	case StateCycleCooldown:
		return "CYCLE_COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// ScheduleState is the whole scheduler position. It is passed into and
// returned from every Tick so the state machine has no hidden globals.
type ScheduleState struct {
	State           State
	Queue           [][]domain.Identity
	CurrentBatch    int
	TotalBatches    int
	CyclesCompleted int
	NextEventTime   time.Time

	// Blocked is set while idle because no roster is available, so
	// operators can tell "resting" from "waiting for source data".
	Blocked bool
}

// NewState returns an idle state whose first cycle may start at start.
func NewState(start time.Time) ScheduleState {
	return ScheduleState{State: StateIdle, NextEventTime: start}
}

// Status is the human-readable description shown on the status line.
func (s ScheduleState) Status() string {
	switch s.State {
	case StateIdle:
		if s.Blocked {
			return "waiting for roster"
		}
		return "idle"
	case StateCycleStarting:
		return "preparing batches"
	case StateBatchRunning:
		return fmt.Sprintf("running batch %d/%d", s.CurrentBatch, s.TotalBatches)
	case StateBatchCooldown:
		return fmt.Sprintf("waiting for batch %d/%d", s.CurrentBatch+1, s.TotalBatches)
	case StateCycleCooldown:
		return "resting between cycles"
	default:
		return s.State.String()
	}
}

// Remaining is the time left until the next event, never negative.
func (s ScheduleState) Remaining(now time.Time) time.Duration {
	d := s.NextEventTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s ScheduleState) clone() ScheduleState {
	out := s
	out.Queue = make([][]domain.Identity, len(s.Queue))
	copy(out.Queue, s.Queue)
	return out
}

// Partition splits ids into contiguous batches of size, the last one
// possibly shorter.
func Partition(ids []domain.Identity, size int) [][]domain.Identity {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]domain.Identity, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		batch := make([]domain.Identity, end-i)
		copy(batch, ids[i:end])
		batches = append(batches, batch)
	}
	return batches
}
