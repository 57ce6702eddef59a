package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"guild-bridge/internal/aggregate"
	"guild-bridge/internal/config"
	"guild-bridge/internal/domain"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/reconcile"
	"guild-bridge/internal/sink"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// SyncReport describes what one snapshot changed in the sink.
type SyncReport struct {
	Pruned          reconcile.PruneReport
	Seeded          int
	ActivityUpdated int
	EventsAppended  int
	Dashboard       *aggregate.Report
}

// SyncService writes a decoded snapshot to the sink: reconcile, seed new
// members, merge chat activity, append the event log and redraw the
// dashboard, in that order.
type SyncService struct {
	sink       sink.Sink
	reconciler *reconcile.Reconciler
	tables     Tables
	clock      quartz.Clock
	loc        *time.Location
	realm      string
	warnAbove  int
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	provisioned bool
}

func NewSyncService(
	cfg *config.Config,
	s sink.Sink,
	reconciler *reconcile.Reconciler,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *SyncService {
	return &SyncService{
		sink:       s,
		reconciler: reconciler,
		tables:     NewTables(cfg),
		clock:      clock,
		loc:        cfg.Location(),
		realm:      cfg.DefaultRealm,
		warnAbove:  cfg.RosterWarningThreshold,
		metrics:    m,
		logger:     logger.With().Str("component", "sync").Logger(),
	}
}

// Apply runs every step even when an earlier one failed; the failures are
// joined into the returned error. roster is the membership to write against:
// the snapshot's own roster, or the last known one when the snapshot had
// none.
func (s *SyncService) Apply(ctx context.Context, snap domain.Snapshot, roster domain.Roster) (SyncReport, error) {
	var (
		report SyncReport
		errs   []error
	)

	if err := s.provision(ctx); err != nil {
		errs = append(errs, err)
	}

	if snap.HasRoster {
		s.logger.Info().Int("members", snap.Roster.Len()).Msg("roster loaded")
		s.metrics.RosterSize.Set(float64(snap.Roster.Len()))
		if s.warnAbove > 0 && snap.Roster.Len() > s.warnAbove {
			s.logger.Warn().
				Int("members", snap.Roster.Len()).
				Int("threshold", s.warnAbove).
				Msg("roster is unusually large, check the addon for duplicates")
		}

		if !snap.Roster.Empty() {
			pruned, err := s.reconciler.Reconcile(ctx, snap.Roster, s.tables.Member())
			report.Pruned = pruned
			for table, n := range pruned.Removed {
				s.metrics.PrunedRows.WithLabelValues(table).Add(float64(n))
			}
			for table := range pruned.Failed {
				s.metrics.SinkErrors.WithLabelValues(table, "prune").Inc()
			}
			if err != nil {
				errs = append(errs, err)
			} else if err := pruned.Err(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if !roster.Empty() || len(snap.Activity) > 0 {
		seeded, updated, err := s.syncMembers(ctx, roster, snap.Activity)
		report.Seeded, report.ActivityUpdated = seeded, updated
		if err != nil {
			s.metrics.SinkErrors.WithLabelValues(s.tables.Members.Name, "members").Inc()
			errs = append(errs, err)
		}
	}

	if len(snap.Events) > 0 {
		appended, err := s.syncEventLog(ctx, snap.Events)
		report.EventsAppended = appended
		if err != nil {
			s.metrics.SinkErrors.WithLabelValues(s.tables.Activity.Name, "events").Inc()
			errs = append(errs, err)
		}

		dash, err := s.updateDashboard(ctx, snap.Events, roster.Len())
		report.Dashboard = &dash
		if err != nil {
			s.metrics.SinkErrors.WithLabelValues(s.tables.Dashboard.Name, "dashboard").Inc()
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		s.metrics.SnapshotsOK.Inc()
	}
	s.logger.Info().
		Int("pruned", report.Pruned.Total()).
		Int("seeded", report.Seeded).
		Int("activity", report.ActivityUpdated).
		Int("events", report.EventsAppended).
		Msg("snapshot applied")

	return report, errors.Join(errs...)
}

// provision creates missing worksheets once per process. A failure leaves
// the flag unset so the next snapshot retries.
func (s *SyncService) provision(ctx context.Context) error {
	if s.provisioned {
		return nil
	}
	var errs []error
	for _, table := range s.tables.All() {
		if err := s.sink.EnsureTable(ctx, table); err != nil {
			errs = append(errs, sink.WrapErr(table.Name, "ensure table", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.provisioned = true
	return nil
}

// syncMembers appends a bare row for every roster member missing from the
// Members table, then writes chat activity into columns B..H of rows that
// exist and belong to the roster. Chat data alone never creates a row.
func (s *SyncService) syncMembers(ctx context.Context, roster domain.Roster, activity map[domain.Identity]domain.ActivityEntry) (int, int, error) {
	table := s.tables.Members
	rows, err := s.sink.ListRows(ctx, table.Name)
	if err != nil {
		return 0, 0, sink.WrapErr(table.Name, "list rows", err)
	}

	index := make(map[domain.Identity]int, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if id := domain.Canonical(row.Cell(table.KeyColumn), s.realm); id != "" {
			index[id] = i + 1
		}
	}

	next := max(len(rows), 1) + 1
	var seed [][]any
	for _, id := range roster.Members() {
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = next
		seed = append(seed, []any{string(id)})
		next++
	}
	if len(seed) > 0 {
		start := next - len(seed)
		if err := s.sink.BulkWrite(ctx, table.Name, []sink.Update{{Range: sink.Range{Row: start}, Values: seed}}); err != nil {
			return 0, 0, sink.WrapErr(table.Name, "seed members", err)
		}
		s.logger.Info().Int("members", len(seed)).Msg("seeded new members")
	}

	today := s.clock.Now().In(s.loc)
	ids := make([]domain.Identity, 0, len(activity))
	for id := range activity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var updates []sink.Update
	for _, raw := range ids {
		id := domain.Canonical(string(raw), s.realm)
		idx, ok := index[id]
		if !ok || (!roster.Empty() && !roster.Contains(id)) {
			continue
		}
		e := activity[raw]
		updates = append(updates, sink.Update{
			Range: sink.Range{Row: idx, Col: membersActivityCol},
			Values: [][]any{{
				e.RankName, e.RankIndex, e.Total, e.MessagesOn(today), e.LastSeen, e.LastSeenTS, e.LastMessage,
			}},
		})
	}
	if len(updates) == 0 {
		return len(seed), 0, nil
	}
	if err := s.sink.BulkWrite(ctx, table.Name, updates); err != nil {
		return len(seed), 0, sink.WrapErr(table.Name, "merge activity", err)
	}
	return len(seed), len(updates), nil
}

// syncEventLog appends samples whose timestamp is not yet logged, oldest
// first, in one append call.
func (s *SyncService) syncEventLog(ctx context.Context, events []domain.EventSample) (int, error) {
	table := s.tables.Activity
	rows, err := s.sink.ListRows(ctx, table.Name)
	if err != nil {
		return 0, sink.WrapErr(table.Name, "list rows", err)
	}

	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if i > 0 && row.Cell(0) != "" {
			seen[row.Cell(0)] = struct{}{}
		}
	}

	sorted := make([]domain.EventSample, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var block [][]any
	for _, ev := range sorted {
		if ev.Timestamp == 0 {
			continue
		}
		ts := strconv.FormatInt(ev.Timestamp, 10)
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		t := ev.Time(s.loc)
		block = append(block, []any{ts, t.Format(time.DateOnly), t.Format("15:04"), ev.OnlineCount})
	}
	if len(block) == 0 {
		return 0, nil
	}

	if err := s.sink.AppendRow(ctx, table.Name, block...); err != nil {
		return 0, sink.WrapErr(table.Name, "append events", err)
	}
	return len(block), nil
}

const dashboardGridRow = 6

var weekdayLabels = [aggregate.Days]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// updateDashboard redraws the summary cells, the weekly heatmap and the
// per-hour intensity row, stamping A1 with the sync time.
func (s *SyncService) updateDashboard(ctx context.Context, events []domain.EventSample, members int) (aggregate.Report, error) {
	report := aggregate.Aggregate(events, s.loc)
	s.metrics.OnlinePeak.Set(float64(report.PeakOnline))
	s.metrics.OnlineNow.Set(float64(report.CurrentOnline))

	cell := func(row, col int, v any) sink.Update {
		return sink.Update{Range: sink.Range{Row: row, Col: col}, Values: [][]any{{v}}}
	}
	updates := []sink.Update{
		cell(1, 0, "Last sync: "+s.clock.Now().In(s.loc).Format(time.TimeOnly)),
		cell(2, 1, "PEAK ONLINE"),
		cell(3, 1, report.PeakOnline),
		cell(2, 3, "ONLINE NOW"),
		cell(3, 3, report.CurrentOnline),
		cell(2, 5, "TOTAL MEMBERS"),
		cell(3, 5, members),
		cell(dashboardGridRow, 1, "ACTIVITY MAP (average online)"),
	}

	hours := make([]any, aggregate.Hours)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d:00", h)
	}
	updates = append(updates, sink.Update{
		Range:  sink.Range{Row: dashboardGridRow + 1, Col: 2},
		Values: [][]any{hours},
	})

	for d, label := range weekdayLabels {
		row := make([]any, 0, aggregate.Hours+1)
		row = append(row, label)
		for _, v := range report.Heatmap[d] {
			row = append(row, v)
		}
		updates = append(updates, sink.Update{
			Range:  sink.Range{Row: dashboardGridRow + 2 + d, Col: 1},
			Values: [][]any{row},
		})
	}

	totals := report.HourTotals()
	spark := make([]any, 0, aggregate.Hours+1)
	spark = append(spark, "INTENSITY")
	for _, total := range totals {
		spark = append(spark, fmt.Sprintf(
			`=SPARKLINE(%d, {"charttype","bar";"max",%d;"color1","#4285F4"})`,
			total, report.PeakOnline*aggregate.Days))
	}
	updates = append(updates, sink.Update{
		Range:  sink.Range{Row: dashboardGridRow + 10, Col: 1},
		Values: [][]any{spark},
	})

	if err := s.sink.BulkWrite(ctx, s.tables.Dashboard.Name, updates); err != nil {
		return report, sink.WrapErr(s.tables.Dashboard.Name, "write dashboard", err)
	}
	return report, nil
}
