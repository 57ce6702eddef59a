package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"guild-bridge/internal/bridge"
	"guild-bridge/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus bridge.Status

func (s staticStatus) Status() bridge.Status { return bridge.Status(s) }

func TestHandler_Status(t *testing.T) {
	m := metrics.New()
	h := Handler(staticStatus{State: "BATCH_COOLDOWN", Cycle: 2, CurrentBatch: 1, TotalBatches: 3, RosterSize: 120}, m, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "BATCH_COOLDOWN", got["state"])
	assert.Equal(t, 120.0, got["roster_size"])
	assert.NotContains(t, got, "last_error")
}

func TestHandler_Metrics(t *testing.T) {
	m := metrics.New()
	m.Batches.Inc()
	h := Handler(staticStatus{}, m, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bridge_batches_total 1"))
}

func TestHandler_RejectsWrites(t *testing.T) {
	h := Handler(staticStatus{}, metrics.New(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
