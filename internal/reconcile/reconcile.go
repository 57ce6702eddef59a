// Package reconcile prunes persisted member rows that are no longer part of
// the authoritative roster.
package reconcile

import (
	"context"
	"errors"
	"sort"

	"guild-bridge/internal/domain"
	"guild-bridge/internal/sink"

	"github.com/rs/zerolog"
)

// PruneReport tells how many rows each table lost and which tables failed.
type PruneReport struct {
	Removed map[string]int
	Failed  map[string]error
}

// Err joins the per-table failures, nil when every table succeeded.
func (p PruneReport) Err() error {
	if len(p.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.Failed))
	for name := range p.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, p.Failed[name])
	}
	return errors.Join(errs...)
}

func (p PruneReport) Total() int {
	total := 0
	for _, n := range p.Removed {
		total += n
	}
	return total
}

type Reconciler struct {
	sink         sink.Sink
	defaultRealm string
	logger       zerolog.Logger
}

func NewReconciler(s sink.Sink, defaultRealm string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{sink: s, defaultRealm: defaultRealm, logger: logger}
}

// Reconcile deletes every row whose canonical identity is missing from
// roster. An empty roster is refused with domain.ErrEmptyRoster and nothing
// is touched. A failing table is recorded in the report and the remaining
// tables are still processed.
func (r *Reconciler) Reconcile(ctx context.Context, roster domain.Roster, tables []sink.Table) (PruneReport, error) {
	report := PruneReport{
		Removed: make(map[string]int, len(tables)),
		Failed:  make(map[string]error),
	}
	if roster.Empty() {
		r.logger.Warn().Msg("roster is empty, skipping prune")
		return report, domain.ErrEmptyRoster
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		removed, err := r.pruneTable(ctx, roster, table)
		report.Removed[table.Name] = removed
		if err != nil {
			report.Failed[table.Name] = err
			r.logger.Error().Err(err).Str("table", table.Name).Int("removed", removed).Msg("prune failed")
			continue
		}
		if removed > 0 {
			r.logger.Info().Str("table", table.Name).Int("removed", removed).Msg("pruned former members")
		}
	}

	return report, nil
}

func (r *Reconciler) pruneTable(ctx context.Context, roster domain.Roster, table sink.Table) (int, error) {
	rows, err := r.sink.ListRows(ctx, table.Name)
	if err != nil {
		return 0, sink.WrapErr(table.Name, "list rows", err)
	}

	stale := StaleRows(rows, table.KeyColumn, roster, r.defaultRealm)
	removed := 0
	for _, idx := range stale {
		if err := r.sink.DeleteRow(ctx, table.Name, idx); err != nil {
			return removed, sink.WrapErr(table.Name, "delete row", err)
		}
		removed++
	}
	return removed, nil
}

// StaleRows returns the 1-based indices of rows below the header whose
// canonical identity is non-empty and absent from roster, highest first so
// deleting in order never shifts a pending index.
func StaleRows(rows []sink.Row, keyColumn int, roster domain.Roster, defaultRealm string) []int {
	var stale []int
	for i, row := range rows {
		if i == 0 {
			continue
		}
		id := domain.Canonical(row.Cell(keyColumn), defaultRealm)
		if id == "" || roster.Contains(id) {
			continue
		}
		stale = append(stale, i+1)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(stale)))
	return stale
}
