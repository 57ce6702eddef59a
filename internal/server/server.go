// Package server exposes the bridge state over HTTP: /status as JSON,
// /metrics for prometheus and /healthz.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"guild-bridge/internal/bridge"
	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/metrics"
	"guild-bridge/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type StatusProvider interface {
	Status() bridge.Status
}

type StatusServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewStatusServer(cfg *config.Config, status StatusProvider, m *metrics.Metrics, logger zerolog.Logger) *StatusServer {
	return &StatusServer{
		srv: &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           Handler(status, m, logger),
			ReadHeaderTimeout: constants.ShutdownTimeout,
		},
		logger: logger,
	}
}

func Handler(status StatusProvider, m *metrics.Metrics, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status.Status()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to encode status")
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return middleware.RequestID(logger)(c.Handler(mux))
}

func (s *StatusServer) Addr() string { return s.srv.Addr }

// Run serves until ctx is done, then shuts down gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("status server starting")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("status server shutdown failed")
		return err
	}
	s.logger.Info().Msg("status server stopped gracefully")
	return nil
}
