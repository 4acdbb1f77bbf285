package router

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/geo"
)

func (a *api) getBoundary(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		a.fail(w, r, badRequest("missing required parameter: name"))
		return
	}
	g := a.Boundaries.Resolve(r.Context(), name)
	if g == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "boundary not found"})
		return
	}
	writeGeoJSON(w, geojson.NewGeometry(g))
}

func (a *api) clearBoundaries(w http.ResponseWriter, r *http.Request) {
	if place := strings.TrimSpace(r.URL.Query().Get("place")); place != "" {
		if _, err := a.Boundaries.ClearPlace(r.Context(), place); err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	n, err := a.Boundaries.ClearCache(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (a *api) getLayer(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseLayerType(chi.URLParam(r, "type"))
	if err != nil {
		a.fail(w, r, badRequest("%v", err))
		return
	}
	bb, err := model.ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		a.fail(w, r, badRequest("invalid bbox: %v", err))
		return
	}
	writeGeoJSON(w, a.Layers.FetchLayer(r.Context(), t, bb))
}

func (a *api) clearLayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawLayer, rawBBox := strings.TrimSpace(q.Get("layer")), strings.TrimSpace(q.Get("bbox"))

	var (
		n   int
		err error
	)
	switch {
	case rawLayer == "" && rawBBox != "":
		a.fail(w, r, badRequest("bbox requires layer"))
		return
	case rawLayer == "":
		n, err = a.Layers.ClearCache(r.Context())
	default:
		t, perr := model.ParseLayerType(rawLayer)
		if perr != nil {
			a.fail(w, r, badRequest("%v", perr))
			return
		}
		if rawBBox == "" {
			n, err = a.Layers.ClearLayer(r.Context(), t)
			break
		}
		bb, perr := model.ParseBBox(rawBBox)
		if perr != nil {
			a.fail(w, r, badRequest("invalid bbox: %v", perr))
			return
		}
		n, err = a.Layers.ClearEntry(r.Context(), t, bb)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type bufferRequest struct {
	GeoJSON json.RawMessage `json:"geojson"`
	Radius  float64         `json:"radius"`
	Units   string          `json:"units"`
}

func (a *api) buffer(w http.ResponseWriter, r *http.Request) {
	var req bufferRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	unit, err := geo.ParseUnit(req.Units)
	if err != nil {
		a.fail(w, r, badRequest("%v", err))
		return
	}
	if req.Radius <= 0 || math.IsInf(req.Radius, 0) {
		a.fail(w, r, badRequest("radius must be a positive number"))
		return
	}
	fc, err := parseFeatures(req.GeoJSON)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := geo.Buffer(fc, req.Radius, unit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeGeoJSON(w, out)
}

type dissolveRequest struct {
	GeoJSON  json.RawMessage `json:"geojson"`
	Property string          `json:"property"`
}

func (a *api) dissolve(w http.ResponseWriter, r *http.Request) {
	var req dissolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	fc, err := parseFeatures(req.GeoJSON)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := geo.Dissolve(fc, req.Property)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeGeoJSON(w, out)
}

type intersectRequest struct {
	Target  json.RawMessage `json:"target"`
	GeoJSON json.RawMessage `json:"geojson"`
}

// intersect cuts the submitted features to a polygonal target, given as a
// Feature or a bare geometry.
func (a *api) intersect(w http.ResponseWriter, r *http.Request) {
	var req intersectRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	target, err := parseTarget(req.Target)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	fc, err := parseFeatures(req.GeoJSON)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := geo.Intersect(target, fc)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeGeoJSON(w, out)
}

func parseTarget(raw json.RawMessage) (orb.Geometry, error) {
	if len(raw) == 0 {
		return nil, badRequest("missing target")
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badRequest("target: %v", err)
	}
	if head.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, badRequest("target feature: %v", err)
		}
		return f.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, badRequest("target geometry: %v", err)
	}
	return g.Geometry(), nil
}

// parseFeatures accepts a Feature or a FeatureCollection.
func parseFeatures(raw json.RawMessage) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if len(raw) == 0 {
		return nil, badRequest("missing geojson")
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badRequest("geojson: %v", err)
	}
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, badRequest("geojson feature: %v", err)
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, badRequest("geojson collection: %v", err)
		}
		return fc, nil
	}
	return nil, badRequest("geojson type %q must be Feature or FeatureCollection", head.Type)
}
