package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"guild-bridge/internal/database"
	"guild-bridge/internal/domain"
	"guild-bridge/internal/scheduler"
	"guild-bridge/internal/sink"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "bridge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var members = sink.Table{Name: "Members", KeyColumn: 0, Header: []string{"Name", "Rank"}}

func TestTableRepository_EnsureTableWritesHeaderOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())

	require.NoError(t, repo.EnsureTable(ctx, members))
	require.NoError(t, repo.EnsureTable(ctx, members))

	rows, err := repo.ListRows(ctx, "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{{"Name", "Rank"}}, rows)
}

func TestTableRepository_UnknownTable(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())

	_, err := repo.ListRows(ctx, "Nope")
	assert.ErrorIs(t, err, sink.ErrTableNotFound)
	assert.ErrorIs(t, repo.AppendRow(ctx, "Nope", []any{"x"}), sink.ErrTableNotFound)
}

func TestTableRepository_UpsertAppendsThenReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())
	require.NoError(t, repo.EnsureTable(ctx, members))

	require.NoError(t, repo.Upsert(ctx, members, "Alice-Realm", []any{"Alice-Realm", "Officer"}))
	require.NoError(t, repo.Upsert(ctx, members, "Bob-Realm", []any{"Bob-Realm", "Member"}))
	require.NoError(t, repo.Upsert(ctx, members, "Alice-Realm", []any{"Alice-Realm", "GM"}))

	rows, err := repo.ListRows(ctx, "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{
		{"Name", "Rank"},
		{"Alice-Realm", "GM"},
		{"Bob-Realm", "Member"},
	}, rows)
}

func TestTableRepository_DeleteRowShiftsFollowingRows(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())
	require.NoError(t, repo.EnsureTable(ctx, members))
	for _, name := range []string{"A-R", "B-R", "C-R"} {
		require.NoError(t, repo.AppendRow(ctx, "Members", []any{name, 1}))
	}

	require.NoError(t, repo.DeleteRow(ctx, "Members", 3))

	rows, err := repo.ListRows(ctx, "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{{"Name", "Rank"}, {"A-R", "1"}, {"C-R", "1"}}, rows)
	assert.Equal(t, map[string]int{"A-R": 2, "C-R": 3}, sink.KeyIndex(rows, 0))

	assert.Error(t, repo.DeleteRow(ctx, "Members", 0))
}

func TestTableRepository_AppendRowAddsBlockAfterLast(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())
	require.NoError(t, repo.EnsureTable(ctx, members))
	require.NoError(t, repo.AppendRow(ctx, "Members", []any{"A-R", "Member"}))

	require.NoError(t, repo.AppendRow(ctx, "Members", []any{"B-R", "Member"}, []any{"C-R", "Officer"}))
	require.NoError(t, repo.AppendRow(ctx, "Members"))

	rows, err := repo.ListRows(ctx, "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{
		{"Name", "Rank"},
		{"A-R", "Member"},
		{"B-R", "Member"},
		{"C-R", "Officer"},
	}, rows)
}

func TestTableRepository_BulkWriteSplicesCells(t *testing.T) {
	ctx := context.Background()
	repo := NewTableRepository(openTestDB(t), zerolog.Nop())
	require.NoError(t, repo.EnsureTable(ctx, members))
	require.NoError(t, repo.AppendRow(ctx, "Members", []any{"A-R", "Member"}))

	err := repo.BulkWrite(ctx, "Members", []sink.Update{
		{Range: sink.Range{Row: 2, Col: 1}, Values: [][]any{{"Officer", 12}}},
		{Range: sink.Range{Row: 4, Col: 0}, Values: [][]any{{"late"}}},
	})
	require.NoError(t, err)

	rows, err := repo.ListRows(ctx, "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{
		{"Name", "Rank"},
		{"A-R", "Officer", "12"},
		{},
		{"late"},
	}, rows)
}

func TestEnrichmentHistoryRepository_InsertAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewEnrichmentHistoryRepository(openTestDB(t), zerolog.Nop())
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertBatch(ctx, []HistoryEntry{
		{Identity: "Alice-Realm", Outcome: "profile", StatusCode: 200, Score: 2450.5, BestRun: "+12 NW", FetchedAt: base},
		{Identity: "Alice-Realm", Outcome: "http_error", StatusCode: 503, FetchedAt: base.Add(time.Minute)},
		{Identity: "Bob-Realm", Outcome: "not_found", StatusCode: 404, FetchedAt: base},
	}))
	require.NoError(t, repo.InsertBatch(ctx, nil))

	got, err := repo.ListByIdentity(ctx, "Alice-Realm", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http_error", got[0].Outcome)
	assert.Equal(t, "profile", got[1].Outcome)
	assert.Equal(t, 2450.5, got[1].Score)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	counts, err := repo.CountByOutcome(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"profile": 1, "http_error": 1, "not_found": 1}, counts)
}

func TestCheckpointRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckpointRepository(openTestDB(t), zerolog.Nop())

	_, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	st := scheduler.ScheduleState{
		State:           scheduler.StateBatchCooldown,
		Queue:           [][]domain.Identity{{"A-R"}, {"B-R"}},
		CurrentBatch:    1,
		TotalBatches:    3,
		CyclesCompleted: 4,
		NextEventTime:   now.Add(time.Minute),
	}
	require.NoError(t, repo.Save(ctx, CheckpointFrom(st, now)))

	st.CurrentBatch = 2
	st.Queue = st.Queue[1:]
	require.NoError(t, repo.Save(ctx, CheckpointFrom(st, now.Add(time.Minute))))

	cp, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BATCH_COOLDOWN", cp.State)
	assert.Equal(t, 2, cp.CurrentBatch)
	assert.Equal(t, 1, cp.QueuedBatches)
	assert.Equal(t, 4, cp.CyclesCompleted)
	assert.False(t, cp.Blocked)
	assert.True(t, cp.NextEventAt.Equal(now.Add(time.Minute)))
}
