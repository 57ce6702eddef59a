package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"guild-bridge/internal/api"
	"guild-bridge/internal/domain"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/repository"
	"guild-bridge/internal/sink"
	"guild-bridge/internal/sink/sinktest"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	outcomes map[domain.Identity]api.Outcome
	calls    []domain.Identity
	onFetch  func(n int)
}

func (f *stubFetcher) Fetch(_ context.Context, id domain.Identity) api.Outcome {
	f.calls = append(f.calls, id)
	if f.onFetch != nil {
		f.onFetch(len(f.calls))
	}
	if o, ok := f.outcomes[id]; ok {
		return o
	}
	return api.Outcome{Kind: api.OutcomeNotFound, StatusCode: 404}
}

type memoryHistory struct {
	entries []repository.HistoryEntry
}

func (h *memoryHistory) InsertBatch(_ context.Context, entries []repository.HistoryEntry) error {
	h.entries = append(h.entries, entries...)
	return nil
}

func newTestEnrichment(t *testing.T, mem *sinktest.Memory, f Fetcher) (*EnrichmentService, *memoryHistory, *metrics.Metrics) {
	t.Helper()
	hist := &memoryHistory{}
	m := metrics.New()
	return NewEnrichmentService(testConfig(), f, mem, hist, testClock(t), m, zerolog.Nop()), hist, m
}

func TestEnrichmentService_RunBatch(t *testing.T) {
	mem := sinktest.New()
	mem.Seed("M+ Score", sink.Row(mythicHeader), sink.Row{"", "C-Realm", "Tank", "Orc", "Warrior", "Protection", "1900"})

	fetcher := &stubFetcher{outcomes: map[domain.Identity]api.Outcome{
		"A-Realm": {Kind: api.OutcomeProfile, Profile: api.Profile{
			Class: "Mage", Spec: "Frost", Role: "DPS", Race: "Gnome", AchievementPoints: 3000,
			ProfileURL: "https://raider.io/characters/us/realm/A", ThumbnailURL: "https://img/a.jpg",
			Score: 2450.5, BestRun: "+12 NW",
		}},
		"C-Realm": {Kind: api.OutcomeProfile, Profile: api.Profile{Class: "Warrior", Spec: "Arms", Role: "DPS", Race: "Orc"}},
		"D-Realm": {Kind: api.OutcomeTransportError, Err: errors.New("connection reset")},
		"E-Realm": {Kind: api.OutcomeBadRequest, StatusCode: 400},
	}}
	svc, hist, m := newTestEnrichment(t, mem, fetcher)

	batch := []domain.Identity{"A-Realm", "B-Realm", "C-Realm", "D-Realm", "E-Realm"}
	require.NoError(t, svc.RunBatch(context.Background(), batch))

	assert.Equal(t, batch, fetcher.calls)
	assert.Equal(t, 1, mem.Bulk["M+ Score"])

	rows := mem.Rows("M+ Score")
	require.Len(t, rows, 3)
	assert.Equal(t, sink.Row{"", "C-Realm", "DPS", "Orc", "Warrior", "Arms", "0", "0", "0", "2026-10-19 12:00", ""}, rows[1])
	assert.Equal(t, sink.Row{
		`=IMAGE("https://img/a.jpg")`, "A-Realm", "DPS", "Gnome", "Mage", "Frost", "2450.5", "'+12 NW", "3000",
		"2026-10-19 12:00", "https://raider.io/characters/us/realm/A",
	}, rows[2])

	require.Len(t, hist.entries, 5)
	kinds := make([]string, len(hist.entries))
	for i, e := range hist.entries {
		kinds[i] = e.Outcome
	}
	assert.Equal(t, []string{"profile", "not_found", "profile", "transport_error", "bad_request"}, kinds)
	assert.Equal(t, "connection reset", hist.entries[3].Error)
	assert.Equal(t, 2450.5, hist.entries[0].Score)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchOutcomes.WithLabelValues("profile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches))
}

func TestEnrichmentService_NoProfilesNoWrite(t *testing.T) {
	mem := sinktest.New()
	svc, _, _ := newTestEnrichment(t, mem, &stubFetcher{})

	require.NoError(t, svc.RunBatch(context.Background(), []domain.Identity{"X-Realm"}))
	assert.Zero(t, mem.Bulk["M+ Score"])
	assert.Equal(t, []sink.Row{sink.Row(mythicHeader)}, mem.Rows("M+ Score"))
}

func TestEnrichmentService_CancelledBatchWritesNothing(t *testing.T) {
	mem := sinktest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &stubFetcher{
		outcomes: map[domain.Identity]api.Outcome{
			"A-Realm": {Kind: api.OutcomeProfile, Profile: api.Profile{Score: 100}},
		},
		onFetch: func(n int) {
			if n == 1 {
				cancel()
			}
		},
	}
	svc, hist, _ := newTestEnrichment(t, mem, fetcher)

	err := svc.RunBatch(ctx, []domain.Identity{"A-Realm", "B-Realm", "C-Realm"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fetcher.calls, 1)
	assert.Zero(t, mem.Bulk["M+ Score"])
	assert.Empty(t, hist.entries)
}

func TestEnrichmentService_WriteFailure(t *testing.T) {
	mem := sinktest.New()
	mem.Fail("M+ Score", "bulk", nil)
	fetcher := &stubFetcher{outcomes: map[domain.Identity]api.Outcome{
		"A-Realm": {Kind: api.OutcomeProfile, Profile: api.Profile{Score: 100}},
	}}
	svc, _, _ := newTestEnrichment(t, mem, fetcher)

	err := svc.RunBatch(context.Background(), []domain.Identity{"A-Realm"})
	var tableErr *sink.TableError
	require.ErrorAs(t, err, &tableErr)
	assert.Equal(t, "M+ Score", tableErr.Table)
	assert.ErrorIs(t, err, sinktest.ErrInjected)
}

func TestBatchSummary(t *testing.T) {
	var s BatchSummary
	s.add(api.Outcome{Kind: api.OutcomeProfile, Profile: api.Profile{Score: 10}})
	s.add(api.Outcome{Kind: api.OutcomeProfile})
	s.add(api.Outcome{Kind: api.OutcomeNotFound})
	s.add(api.Outcome{Kind: api.OutcomeBadRequest})
	s.add(api.Outcome{Kind: api.OutcomeHTTPError, StatusCode: 503})
	s.add(api.Outcome{Kind: api.OutcomeTransportError})

	assert.Equal(t, BatchSummary{Scored: 1, Unscored: 1, NotFound: 1, BadRequest: 1, Failed: 2}, s)
	assert.Equal(t, 6, s.Total())
}

func TestEnrichmentService_PacesFetches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clk := testClock(t)
	cfg := testConfig()
	cfg.RequestDelay = 200 * time.Millisecond

	var fetchedAt []time.Time
	fetcher := &stubFetcher{onFetch: func(int) { fetchedAt = append(fetchedAt, clk.Now()) }}
	svc := NewEnrichmentService(cfg, fetcher, sinktest.New(), nil, clk, metrics.New(), zerolog.Nop())

	trap := clk.Trap().NewTimer("enrichment", "pace")
	defer trap.Close()

	done := make(chan error, 1)
	go func() { done <- svc.RunBatch(ctx, []domain.Identity{"A-Realm", "B-Realm", "C-Realm"}) }()

	// the first fetch goes out at once, the next two each wait a full delay
	for range 2 {
		call := trap.MustWait(ctx)
		assert.Equal(t, 200*time.Millisecond, call.Duration)
		call.MustRelease(ctx)
		clk.Advance(call.Duration).MustWait(ctx)
	}
	require.NoError(t, <-done)

	require.Len(t, fetchedAt, 3)
	assert.Equal(t, monday, fetchedAt[0])
	for i := 1; i < len(fetchedAt); i++ {
		assert.GreaterOrEqual(t, fetchedAt[i].Sub(fetchedAt[i-1]), cfg.RequestDelay, "gap %d", i)
	}
}
