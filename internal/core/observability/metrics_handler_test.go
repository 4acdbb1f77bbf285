package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/v1/layers/{type}", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "geoengine_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestInit_CustomRegistryAndDomainLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true)

	IncCacheResult("layers", "memory", "hit")
	IncBoundaryResolution("nominatim", "ok")
	IncLayerFetch("bars", "mock", "ok")
	ObserveCacheClear("layers", 3, time.Millisecond, nil)
	ObserveCacheClear("boundaries", 0, time.Millisecond, errors.New("boom"))

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`cache_results_total{cache="layers",outcome="hit",tier="memory"}`,
		`boundary_resolutions_total{outcome="ok",strategy="nominatim"}`,
		`layer_fetches_total{layer="bars",outcome="ok",provider="mock"}`,
		`cache_clear_commands_total{result="error",scope="boundaries"}`,
		`cache_clear_keys_total{scope="layers"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}

func TestInit_DisabledSkipsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	t.Cleanup(func() { Init(nil, true) })

	IncLayerFetch("prisons", "disabled-test", "ok")

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), `provider="disabled-test"`) {
		t.Fatal("recording must be skipped while disabled")
	}
}
