package service

import (
	"testing"
	"time"

	"guild-bridge/internal/config"
	"guild-bridge/internal/domain"

	"github.com/coder/quartz"
)

// monday is 2026-10-19 12:00 UTC.
var monday = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Timezone = "UTC"
	cfg.DefaultRealm = "Realm"
	cfg.RequestDelay = 0
	return cfg
}

func testClock(t *testing.T) *quartz.Mock {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(monday)
	return clk
}

func roster(names ...string) domain.Roster {
	ids := make([]domain.Identity, len(names))
	for i, n := range names {
		ids[i] = domain.Identity(n)
	}
	return domain.NewRoster(ids)
}
