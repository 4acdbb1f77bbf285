// Package metrics runs the optional dedicated metrics listener. Its registry
// carries the Go runtime collectors plus every geoengine collector.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animita-app/animitas-sub001/internal/core/observability"
)

const DefaultPath = "/metrics"

type Config struct {
	Addr    string
	Path    string
	Version string
}

type Provider struct {
	cfg Config
	reg *prometheus.Registry
}

// Init builds a private registry, attaches the observability collectors to
// it and stamps the build version. Recording is switched on.
func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observability.Init(reg, true)
	observability.ExposeBuildInfo(cfg.Version)
	return &Provider{cfg: cfg, reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// Serve listens on cfg.Addr until ctx is done.
func (p *Provider) Serve(ctx context.Context, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, p.Handler())
	srv := &http.Server{
		Addr:              p.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("metrics listening", "addr", p.cfg.Addr, "path", p.cfg.Path)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
