// Package router wires the /v1 HTTP API onto the engine's services.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/analysis"
	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/core/observability"
	"github.com/animita-app/animitas-sub001/internal/enrich"
	"github.com/animita-app/animitas-sub001/internal/geo"
	"github.com/animita-app/animitas-sub001/internal/pipeline"
	"github.com/animita-app/animitas-sub001/internal/session"
)

const maxBodyBytes = 8 << 20

type BoundaryService interface {
	Resolve(ctx context.Context, name string) orb.Geometry
	ClearCache(ctx context.Context) (int, error)
	ClearPlace(ctx context.Context, name string) (int, error)
}

type LayerService interface {
	FetchLayer(ctx context.Context, t model.LayerType, bb model.BBox) *geojson.FeatureCollection
	ClearCache(ctx context.Context) (int, error)
	ClearLayer(ctx context.Context, t model.LayerType) (int, error)
	ClearEntry(ctx context.Context, t model.LayerType, bb model.BBox) (int, error)
}

type AnalysisService interface {
	Run(ctx context.Context, records []model.Record, bb model.BBox, types []model.LayerType) analysis.Result
	Insights(ctx context.Context, records []model.Record, bb model.BBox, types []model.LayerType) []enrich.Insight
}

type Deps struct {
	Boundaries BoundaryService
	Layers     LayerService
	Analysis   AnalysisService
	Sessions   *session.Registry
	Logger     *slog.Logger
}

type api struct {
	Deps
}

// Mount registers every /v1 route on r.
func Mount(r chi.Router, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &api{Deps: d}

	r.Route("/v1", func(r chi.Router) {
		r.Use(observe)

		r.Get("/boundaries", a.getBoundary)
		r.Delete("/boundaries/cache", a.clearBoundaries)

		r.Get("/layers/{type}", a.getLayer)
		r.Delete("/layers/cache", a.clearLayers)

		r.Post("/geometry/buffer", a.buffer)
		r.Post("/geometry/dissolve", a.dissolve)
		r.Post("/geometry/intersect", a.intersect)

		r.Post("/sessions", a.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Delete("/", a.deleteSession)
			r.Get("/points", a.getPoints)
			r.Post("/points", a.addPoint)
			r.Put("/area", a.setArea)
			r.Delete("/area", a.clearArea)
			r.Post("/area/place", a.setAreaFromPlace)
			r.Put("/filters/{attr}", a.setFilter)
			r.Post("/filters/{attr}/toggle", a.toggleFilter)
			r.Delete("/filters", a.clearFilters)
			r.Get("/analysis", a.runAnalysis)
			r.Get("/insights", a.insights)
		})
	})
}

// observe records request metrics under the matched route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidArea), errors.Is(err, geo.ErrInvalidGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		a.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	} else {
		a.Logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGeoJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}
