package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"guild-bridge/internal/sink"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

func TestColumnName(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 7: "H", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for col, want := range cases {
		assert.Equal(t, want, ColumnName(col), "col %d", col)
	}
}

func TestBlockRange(t *testing.T) {
	assert.Equal(t, "'Dashboard'!A1", BlockRange("Dashboard", sink.Range{Row: 1}, [][]any{{"x"}}))
	assert.Equal(t, "'Members'!B5:H5", BlockRange("Members", sink.Range{Row: 5, Col: 1}, [][]any{{1, 2, 3, 4, 5, 6, 7}}))
	assert.Equal(t, "'M+ Score'!C8:Z14", BlockRange("M+ Score", sink.Range{Row: 8, Col: 2}, grid(7, 24)))
	assert.Equal(t, "'Guild''s Log'!A2", BlockRange("Guild's Log", sink.Range{Row: 2}, nil))
}

func grid(rows, cols int) [][]any {
	out := make([][]any, rows)
	for i := range out {
		out[i] = make([]any, cols)
	}
	return out
}

// fakeSheetsAPI serves the handful of Sheets REST endpoints the Sink uses.
// Like the real API it rejects value ranges past a tab's row count.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	values   map[string][][]any
	rowCount map[string]int64
	batches  []gsheets.BatchUpdateValuesRequest
	requests []gsheets.BatchUpdateSpreadsheetRequest
	appends  []gsheets.ValueRange
	options  []string
}

var fakeSheetIDs = map[string]int64{"Dashboard": 0, "Members": 7, "Activity Logs": 9}

func newFakeSheetsAPI() *fakeSheetsAPI {
	return &fakeSheetsAPI{
		values:   map[string][][]any{},
		rowCount: map[string]int64{"Dashboard": 100, "Members": 100, "Activity Logs": 1000},
	}
}

func (f *fakeSheetsAPI) titleFor(sheetID int64) string {
	for title, id := range fakeSheetIDs {
		if id == sheetID {
			return title
		}
	}
	return ""
}

// rangeEnd returns the tab title and last row of an A1 range such as
// 'Members'!B2:H4.
func rangeEnd(rng string) (string, int64) {
	title, cells, _ := strings.Cut(rng, "!")
	title = strings.ReplaceAll(strings.Trim(title, "'"), "''", "'")
	if _, end, ok := strings.Cut(cells, ":"); ok {
		cells = end
	}
	row, _ := strconv.ParseInt(strings.TrimLeft(cells, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"), 10, 64)
	return title, row
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "" && r.Method == http.MethodGet:
		sheets := []any{}
		for _, title := range []string{"Dashboard", "Members", "Activity Logs"} {
			sheets = append(sheets, map[string]any{"properties": map[string]any{
				"sheetId":        fakeSheetIDs[title],
				"title":          title,
				"gridProperties": map[string]any{"rowCount": f.rowCount[title], "columnCount": 26},
			}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case path == ":batchUpdate":
		var req gsheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.requests = append(f.requests, req)
		for _, sub := range req.Requests {
			if sub.AppendDimension != nil {
				f.rowCount[f.titleFor(sub.AppendDimension.SheetId)] += sub.AppendDimension.Length
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	case path == "/values:batchUpdate":
		var req gsheets.BatchUpdateValuesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, vr := range req.Data {
			if title, row := rangeEnd(vr.Range); row > f.rowCount[title] {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":400,"message":"exceeds grid limits"}}`))
				return
			}
		}
		f.batches = append(f.batches, req)
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	case strings.HasSuffix(path, ":append") && r.Method == http.MethodPost:
		var vr gsheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appends = append(f.appends, vr)
		f.options = append(f.options, r.URL.Query().Get("insertDataOption"))
		title, _ := rangeEnd(strings.TrimSuffix(strings.TrimPrefix(path, "/values/"), ":append"))
		f.rowCount[title] += int64(len(vr.Values))
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodGet:
		rng := strings.TrimPrefix(path, "/values/")
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": f.values[rng]})
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func newTestSink(t *testing.T, api *fakeSheetsAPI) *Sink {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := gsheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewWithService(svc, "sheet-1", nil, zerolog.Nop())
}

func TestSink_ListRows(t *testing.T) {
	api := newFakeSheetsAPI()
	api.values["'Members'"] = [][]any{{"Name", "Rank"}, {"Alice-Realm", "GM"}, {"Bob"}}
	s := newTestSink(t, api)

	rows, err := s.ListRows(context.Background(), "Members")
	require.NoError(t, err)
	assert.Equal(t, []sink.Row{{"Name", "Rank"}, {"Alice-Realm", "GM"}, {"Bob"}}, rows)

	_, err = s.ListRows(context.Background(), "Missing")
	assert.ErrorIs(t, err, sink.ErrTableNotFound)
}

func TestSink_BulkWriteIsOneCall(t *testing.T) {
	api := newFakeSheetsAPI()
	s := newTestSink(t, api)

	err := s.BulkWrite(context.Background(), "Members", []sink.Update{
		{Range: sink.Range{Row: 2, Col: 1}, Values: [][]any{{"Officer", 1, 30, 2, "today", 1760000000, "hi"}}},
		{Range: sink.Range{Row: 4, Col: 1}, Values: [][]any{{"Member", 5, 3, 0, "", 0, ""}}},
	})
	require.NoError(t, err)

	require.Len(t, api.batches, 1)
	req := api.batches[0]
	assert.Equal(t, "USER_ENTERED", req.ValueInputOption)
	require.Len(t, req.Data, 2)
	assert.Equal(t, "'Members'!B2:H2", req.Data[0].Range)
	assert.Equal(t, "'Members'!B4:H4", req.Data[1].Range)
}

func TestSink_DeleteRowUsesSheetID(t *testing.T) {
	api := newFakeSheetsAPI()
	s := newTestSink(t, api)

	require.NoError(t, s.DeleteRow(context.Background(), "Members", 3))

	require.Len(t, api.requests, 1)
	require.Len(t, api.requests[0].Requests, 1)
	dim := api.requests[0].Requests[0].DeleteDimension
	require.NotNil(t, dim)
	assert.Equal(t, int64(7), dim.Range.SheetId)
	assert.Equal(t, "ROWS", dim.Range.Dimension)
	assert.Equal(t, int64(2), dim.Range.StartIndex)
	assert.Equal(t, int64(3), dim.Range.EndIndex)
}

func TestSink_EnsureTableSkipsExistingHeader(t *testing.T) {
	api := newFakeSheetsAPI()
	api.values["'Members'!1:1"] = [][]any{{"Name"}}
	s := newTestSink(t, api)

	require.NoError(t, s.EnsureTable(context.Background(), sink.Table{Name: "Members", Header: []string{"Name"}}))
	assert.Empty(t, api.requests)
	assert.Empty(t, api.batches)
}

func TestSink_BulkWriteGrowsFullTab(t *testing.T) {
	api := newFakeSheetsAPI()
	s := newTestSink(t, api)

	seed := make([][]any, 120)
	for i := range seed {
		seed[i] = []any{fmt.Sprintf("Member%d-Realm", i)}
	}
	err := s.BulkWrite(context.Background(), "Members", []sink.Update{{Range: sink.Range{Row: 2}, Values: seed}})
	require.NoError(t, err)

	require.Len(t, api.requests, 1)
	grow := api.requests[0].Requests[0].AppendDimension
	require.NotNil(t, grow)
	assert.Equal(t, int64(7), grow.SheetId)
	assert.Equal(t, "ROWS", grow.Dimension)
	assert.Equal(t, int64(100), grow.Length)
	require.Len(t, api.batches, 1)
	assert.Equal(t, "'Members'!A2:A121", api.batches[0].Data[0].Range)

	// the grown size is cached, a write inside it needs no second request
	err = s.BulkWrite(context.Background(), "Members", []sink.Update{{Range: sink.Range{Row: 150}, Values: [][]any{{"x"}}}})
	require.NoError(t, err)
	assert.Len(t, api.requests, 1)
	assert.Len(t, api.batches, 2)
}

func TestSink_AppendRowIsOneInsert(t *testing.T) {
	api := newFakeSheetsAPI()
	s := newTestSink(t, api)

	err := s.AppendRow(context.Background(), "Activity Logs",
		[]any{"1760868000", "2026-10-19", "10:00", 5},
		[]any{"1760869800", "2026-10-19", "10:30", 7},
	)
	require.NoError(t, err)

	require.Len(t, api.appends, 1)
	assert.Len(t, api.appends[0].Values, 2)
	assert.Equal(t, []string{"INSERT_ROWS"}, api.options)
	assert.NoError(t, s.AppendRow(context.Background(), "Activity Logs"))
	assert.Len(t, api.appends, 1)
}
