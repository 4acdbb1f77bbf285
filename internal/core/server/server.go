// Package server assembles the geoengine HTTP surface and owns its listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animita-app/animitas-sub001/internal/core/config"
	"github.com/animita-app/animitas-sub001/internal/core/health"
	middleware "github.com/animita-app/animitas-sub001/internal/core/middleware"
	"github.com/animita-app/animitas-sub001/internal/core/router"
)

const defaultShutdownTimeout = 10 * time.Second

// Handler mounts health checks, in-process metrics and the /v1 API behind
// the recover, logging and CORS middleware. Metrics stay off this handler
// when a dedicated METRICS_ADDR listener serves them.
func Handler(cfg config.Config, logger *slog.Logger, deps router.Deps, checks ...health.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, checks...))
	if cfg.MetricsEnabled && cfg.MetricsAddr == "" {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	router.Mount(r, deps)
	return r
}

func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// a cold boundary lookup may run for the whole BOUNDARY_TIMEOUT
		WriteTimeout: cfg.Boundary.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run serves until ctx is done, then drains in-flight requests for at most
// cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps router.Deps, checks ...health.Check) error {
	srv := newHTTPServer(cfg, Handler(cfg, logger, deps, checks...))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listener: %w", err)
	case <-ctx.Done():
	}

	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	logger.Info("http draining", "grace", grace)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
