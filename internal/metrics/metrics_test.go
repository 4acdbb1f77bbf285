package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/animita-app/animitas-sub001/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func TestInit_RegistryCarriesGeoengineCollectors(t *testing.T) {
	p := Init(Config{Version: "test"})

	observability.IncCacheResult("boundaries", "memory", "miss")
	observability.IncCacheResult("boundaries", "redis", "hit")
	observability.ObserveCacheOp("mget", nil, 0.002)
	observability.IncBoundaryResolution("overpass", "empty")
	observability.IncKafkaConsumerError("decode")
	observability.SetActiveSessions(3)

	req := httptest.NewRequest(http.MethodGet, DefaultPath, nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, s := range []string{`redis_operation_duration_seconds_count`, `sessions_active 3`, `go_goroutines`} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "cache_results_total",
		`cache="boundaries"`, `tier="redis"`, `outcome="hit"`)
	assertHasMetricLine(t, body, "boundary_resolutions_total",
		`strategy="overpass"`, `outcome="empty"`)
	assertHasMetricLine(t, body, "kafka_consumer_errors_total", `kind="decode"`)
	assertHasMetricLine(t, body, "geoengine_build_info", `version="test"`)
	if strings.Contains(body, "app_build_info") {
		t.Fatal("build info must be exported once, as geoengine_build_info")
	}
}

func TestServe_StopsWithContext(t *testing.T) {
	p := Init(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
