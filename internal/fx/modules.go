package fx

import (
	"context"
	"database/sql"
	"os"

	"guild-bridge/internal/api"
	"guild-bridge/internal/bridge"
	"guild-bridge/internal/config"
	"guild-bridge/internal/database"
	"guild-bridge/internal/logger"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/reconcile"
	"guild-bridge/internal/repository"
	"guild-bridge/internal/scheduler"
	"guild-bridge/internal/server"
	"guild-bridge/internal/service"
	"guild-bridge/internal/sheets"
	"guild-bridge/internal/sink"
	"guild-bridge/internal/snapshot"
	"guild-bridge/internal/status"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel, cfg.LogFormat)
}

func ProvideClock() quartz.Clock {
	return quartz.NewReal()
}

// ProvideSink picks the spreadsheet or the local sqlite backend.
func ProvideSink(cfg *config.Config, sqlDB *sql.DB, logger zerolog.Logger) (sink.Sink, error) {
	if cfg.SinkDriver == config.SinkSQLite {
		logger.Info().Str("path", cfg.DBPath).Msg("using sqlite sink")
		return repository.NewTableRepository(sqlDB, logger), nil
	}
	return sheets.New(context.Background(), cfg, logger)
}

func ProvideReconciler(cfg *config.Config, s sink.Sink, logger zerolog.Logger) *reconcile.Reconciler {
	return reconcile.NewReconciler(s, cfg.DefaultRealm, logger)
}

func ProvideEnrichmentService(
	cfg *config.Config,
	client *api.RaiderIOClient,
	s sink.Sink,
	history *repository.EnrichmentHistoryRepository,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *service.EnrichmentService {
	return service.NewEnrichmentService(cfg, client, s, history, clock, m, logger)
}

func ProvideScheduler(cfg *config.Config, runner *service.EnrichmentService, clock quartz.Clock, logger zerolog.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(cfg, runner, clock, logger)
}

// ProvideWatcher returns nil when the addon directory cannot be watched;
// the poll interval alone still picks up changes.
func ProvideWatcher(cfg *config.Config, logger zerolog.Logger) *snapshot.Watcher {
	w, err := snapshot.NewWatcher(cfg.AddonPath, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("file watcher unavailable, polling only")
		return nil
	}
	return w
}

// ProvideRenderer draws the status line on stdout unless stdout carries
// JSON logs.
func ProvideRenderer(cfg *config.Config) *status.Renderer {
	if cfg.LogFormat == "json" {
		return nil
	}
	return status.NewRenderer(os.Stdout)
}

func ProvideBridge(
	cfg *config.Config,
	source *snapshot.Source,
	syncSvc *service.SyncService,
	sched *scheduler.Scheduler,
	checkpoints *repository.CheckpointRepository,
	watcher *snapshot.Watcher,
	renderer *status.Renderer,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *bridge.Bridge {
	var wake <-chan struct{}
	if watcher != nil {
		wake = watcher.Changes()
	}
	return bridge.New(bridge.Deps{
		Config:      cfg,
		Source:      source,
		Applier:     syncSvc,
		Scheduler:   sched,
		Checkpoints: checkpoints,
		Wake:        wake,
		Status:      renderer,
		Clock:       clock,
		Metrics:     m,
		Logger:      logger,
	})
}

func ProvideStatusServer(cfg *config.Config, b *bridge.Bridge, m *metrics.Metrics, logger zerolog.Logger) *server.StatusServer {
	return server.NewStatusServer(cfg, b, m, logger)
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideClock),
	fx.Provide(metrics.New),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewEnrichmentHistoryRepository),
	fx.Provide(repository.NewCheckpointRepository),
	fx.Provide(ProvideSink),
	// api client
	fx.Provide(api.NewRaiderIOClient),
	// snapshot
	fx.Provide(snapshot.NewSource),
	fx.Provide(ProvideWatcher),
	// svc
	fx.Provide(ProvideReconciler),
	fx.Provide(service.NewSyncService),
	fx.Provide(ProvideEnrichmentService),
	fx.Provide(ProvideScheduler),
	// loop + server
	fx.Provide(ProvideRenderer),
	fx.Provide(ProvideBridge),
	fx.Provide(ProvideStatusServer),
)
