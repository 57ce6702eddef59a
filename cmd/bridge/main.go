package main

import (
	"context"
	"database/sql"
	"fmt"

	"guild-bridge/internal/bridge"
	"guild-bridge/internal/config"
	fxmodules "guild-bridge/internal/fx"
	"guild-bridge/internal/server"
	"guild-bridge/internal/snapshot"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runBridge),
	).Run()
}

func runBridge(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	b *bridge.Bridge,
	watcher *snapshot.Watcher,
	statusServer *server.StatusServer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			config.LogSummary(cfg, logger)

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			group, ctx = errgroup.WithContext(ctx)

			group.Go(func() error { return b.Run(ctx) })
			if watcher != nil {
				group.Go(func() error { return watcher.Run(ctx) })
			}
			if cfg.StatusAddr != "" {
				group.Go(func() error { return statusServer.Run(ctx) })
			}

			go func() {
				if err := group.Wait(); err != nil {
					logger.Error().Err(err).Msg("bridge stopped with error")
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down bridge")
			cancel()

			done := make(chan error, 1)
			go func() { done <- group.Wait() }()

			var err error
			select {
			case err = <-done:
			case <-ctx.Done():
				err = fmt.Errorf("bridge did not stop in time: %w", ctx.Err())
			}

			if cerr := db.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("error closing database connection")
			}
			if err != nil {
				logger.Error().Err(err).Msg("bridge shutdown failed")
				return err
			}
			logger.Info().Msg("bridge stopped gracefully")
			return nil
		},
	})
}
