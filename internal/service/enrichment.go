package service

import (
	"context"
	"fmt"
	"time"

	"guild-bridge/internal/api"
	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/domain"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/repository"
	"guild-bridge/internal/scheduler"
	"guild-bridge/internal/sink"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Fetcher interface {
	Fetch(ctx context.Context, id domain.Identity) api.Outcome
}

type HistoryStore interface {
	InsertBatch(ctx context.Context, entries []repository.HistoryEntry) error
}

// BatchSummary tallies one batch the way the log line reports it.
type BatchSummary struct {
	Scored     int
	Unscored   int
	NotFound   int
	BadRequest int
	Failed     int
}

func (b BatchSummary) Total() int {
	return b.Scored + b.Unscored + b.NotFound + b.BadRequest + b.Failed
}

func (b *BatchSummary) add(o api.Outcome) {
	switch o.Kind {
	case api.OutcomeProfile:
		if o.Profile.Score > 0 {
			b.Scored++
		} else {
			b.Unscored++
		}
	case api.OutcomeNotFound:
		b.NotFound++
	case api.OutcomeBadRequest:
		b.BadRequest++
	default:
		b.Failed++
	}
}

// EnrichmentService fetches every member of a batch sequentially and writes
// the profiles to the M+ Score table in a single bulk write.
type EnrichmentService struct {
	fetcher Fetcher
	sink    sink.Sink
	history HistoryStore
	table   sink.Table
	limiter *rate.Limiter
	clock   quartz.Clock
	loc     *time.Location
	realm   string
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

var _ scheduler.BatchRunner = (*EnrichmentService)(nil)

func NewEnrichmentService(
	cfg *config.Config,
	fetcher Fetcher,
	s sink.Sink,
	history HistoryStore,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *EnrichmentService {
	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}
	return &EnrichmentService{
		fetcher: fetcher,
		sink:    s,
		history: history,
		table:   NewTables(cfg).Mythic,
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
		loc:     cfg.Location(),
		realm:   cfg.DefaultRealm,
		metrics: m,
		logger:  logger.With().Str("component", "enrichment").Logger(),
	}
}

// RunBatch never writes a partial batch: a cancelled context aborts before
// the bulk write. Per-member fetch failures are counted and skipped.
func (s *EnrichmentService) RunBatch(ctx context.Context, batch []domain.Identity) error {
	if err := s.sink.EnsureTable(ctx, s.table); err != nil {
		return sink.WrapErr(s.table.Name, "ensure table", err)
	}
	rows, err := s.sink.ListRows(ctx, s.table.Name)
	if err != nil {
		return sink.WrapErr(s.table.Name, "list rows", err)
	}

	index := make(map[domain.Identity]int, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if id := domain.Canonical(row.Cell(s.table.KeyColumn), s.realm); id != "" {
			index[id] = i + 1
		}
	}
	next := max(len(rows), 1) + 1

	var (
		summary BatchSummary
		updates []sink.Update
		history = make([]repository.HistoryEntry, 0, len(batch))
	)
	for i, id := range batch {
		if err := s.pace(ctx); err != nil {
			return fmt.Errorf("batch aborted after %d of %d: %w", i, len(batch), err)
		}
		if i%constants.ProgressLogEvery == 0 {
			s.logger.Debug().Int("done", i).Int("total", len(batch)).Msg("scanning batch")
		}

		start := s.clock.Now()
		outcome := s.fetcher.Fetch(ctx, id)
		fetchedAt := s.clock.Now()
		s.metrics.FetchDuration.Observe(fetchedAt.Sub(start).Seconds())
		s.metrics.FetchOutcomes.WithLabelValues(outcome.Kind.String()).Inc()
		summary.add(outcome)
		history = append(history, historyEntry(id, outcome, fetchedAt))

		if outcome.Kind != api.OutcomeProfile {
			s.logger.Debug().Str("identity", id.String()).Stringer("outcome", outcome).Msg("no profile")
			continue
		}

		row := s.profileRow(outcome.Profile.Record(id, fetchedAt))
		idx, ok := index[id]
		if !ok {
			idx = next
			index[id] = idx
			next++
		}
		updates = append(updates, sink.Update{Range: sink.Range{Row: idx}, Values: [][]any{row}})
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch aborted before write: %w", err)
	}

	s.logger.Info().
		Int("processed", summary.Total()).
		Int("scored", summary.Scored).
		Int("unscored", summary.Unscored).
		Int("not_found", summary.NotFound).
		Int("bad_request", summary.BadRequest).
		Int("errors", summary.Failed).
		Msg("batch summary")

	if s.history != nil {
		if err := s.history.InsertBatch(ctx, history); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record enrichment history")
		}
	}

	s.metrics.Batches.Inc()
	if len(updates) == 0 {
		return nil
	}
	if err := s.sink.BulkWrite(ctx, s.table.Name, updates); err != nil {
		s.metrics.SinkErrors.WithLabelValues(s.table.Name, "enrichment").Inc()
		return sink.WrapErr(s.table.Name, "write profiles", err)
	}
	s.logger.Info().Int("rows", len(updates)).Msg("profiles written")
	return nil
}

// pace blocks until the limiter admits the next fetch. Reservations and
// waits are measured on the injected clock.
func (s *EnrichmentService) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.clock.Now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("request pacing: reservation refused")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	timer := s.clock.NewTimer(delay, "enrichment", "pace")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.CancelAt(s.clock.Now())
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *EnrichmentService) profileRow(rec domain.EnrichmentRecord) []any {
	avatar := ""
	if rec.ThumbnailURL != "" {
		avatar = fmt.Sprintf(`=IMAGE("%s")`, rec.ThumbnailURL)
	}
	bestRun := "0"
	if rec.BestRun != "" {
		// leading quote keeps "+12 NW" from being parsed as a formula
		bestRun = "'" + rec.BestRun
	}
	return []any{
		avatar,
		string(rec.Identity),
		rec.Role,
		rec.Race,
		rec.Class,
		rec.Spec,
		rec.Score,
		bestRun,
		rec.AchievementPoints,
		rec.UpdatedAt.In(s.loc).Format("2006-01-02 15:04"),
		rec.ProfileURL,
	}
}

func historyEntry(id domain.Identity, o api.Outcome, at time.Time) repository.HistoryEntry {
	e := repository.HistoryEntry{
		Identity:   string(id),
		Outcome:    o.Kind.String(),
		StatusCode: o.StatusCode,
		FetchedAt:  at,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	if o.Kind == api.OutcomeProfile {
		e.Score = o.Profile.Score
		e.BestRun = o.Profile.BestRun
		e.Class = o.Profile.Class
		e.Spec = o.Profile.Spec
		e.Role = o.Profile.Role
		e.AchievementPoints = o.Profile.AchievementPoints
	}
	return e
}
