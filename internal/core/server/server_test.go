package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/animita-app/animitas-sub001/internal/core/config"
	"github.com/animita-app/animitas-sub001/internal/core/router"
	"github.com/animita-app/animitas-sub001/internal/session"
)

func TestHandler_HealthMetricsAndCORS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{MetricsEnabled: true}
	h := Handler(cfg, logger, router.Deps{
		Sessions: session.NewRegistry(nil, session.Options{Logger: logger}),
		Logger:   logger,
	})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("preflight missing CORS headers: %v", rr.Header())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusCreated || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("create session status=%d headers=%v", rr.Code, rr.Header())
	}
}

func TestHandler_DedicatedMetricsListenerKeepsAPIClean(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{MetricsEnabled: true, MetricsAddr: ":9100"}
	h := Handler(cfg, logger, router.Deps{
		Sessions: session.NewRegistry(nil, session.Options{Logger: logger}),
		Logger:   logger,
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("/metrics status=%d want 404", rr.Code)
	}
}

func TestNewHTTPServer_WriteTimeoutCoversBoundaryLookup(t *testing.T) {
	cfg := config.Config{Addr: ":0", Boundary: config.BoundaryCfg{Timeout: 45 * time.Second}}
	srv := newHTTPServer(cfg, http.NotFoundHandler())
	if srv.WriteTimeout != 75*time.Second {
		t.Fatalf("WriteTimeout=%v want 75s", srv.WriteTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatal("ReadHeaderTimeout must be set")
	}
}

func TestRun_ReturnsAfterCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, logger, router.Deps{
			Sessions: session.NewRegistry(nil, session.Options{Logger: logger}),
			Logger:   logger,
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
