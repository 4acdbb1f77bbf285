package router

import (
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	mylog "github.com/animita-app/animitas-sub001/internal/logger"
	"github.com/animita-app/animitas-sub001/internal/pipeline"
)

type sessionView struct {
	ID       string         `json:"id"`
	State    pipeline.State `json:"state"`
	Filtered int            `json:"filtered_count"`
}

// session resolves {id}; on failure the error response is already written.
func (a *api) session(w http.ResponseWriter, r *http.Request) (string, *pipeline.Context, bool) {
	id := chi.URLParam(r, "id")
	c, err := a.Sessions.Get(id)
	if err != nil {
		a.fail(w, r, err)
		return "", nil, false
	}
	return id, c, true
}

func (a *api) writeSession(w http.ResponseWriter, id string, c *pipeline.Context) {
	writeJSON(w, http.StatusOK, sessionView{ID: id, State: c.State(), Filtered: len(c.Filtered())})
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	id, _ := a.Sessions.Create()
	a.Logger.InfoContext(mylog.WithSessionID(r.Context(), id), "session created")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	a.writeSession(w, id, c)
}

func (a *api) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getPoints(w http.ResponseWriter, r *http.Request) {
	_, c, ok := a.session(w, r)
	if !ok {
		return
	}
	writeGeoJSON(w, recordsToFeatures(c.Filtered()))
}

func recordsToFeatures(rs []model.Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range rs {
		f := geojson.NewFeature(orb.Point{rec.Lng, rec.Lat})
		f.ID = rec.ID
		f.Properties = geojson.Properties(maps.Clone(rec.Attrs))
		fc.Append(f)
	}
	return fc
}

func (a *api) addPoint(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	var m model.Memorial
	if err := decodeBody(w, r, &m); err != nil {
		a.fail(w, r, err)
		return
	}
	if m.Lng < -180 || m.Lng > 180 || m.Lat < -90 || m.Lat > 90 {
		a.fail(w, r, badRequest("coordinates out of range"))
		return
	}
	pid, err := c.AddSyntheticPoint(m)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.DebugContext(r.Context(), "synthetic point added", "session_id", id, "point_id", pid)
	writeJSON(w, http.StatusCreated, map[string]string{"id": pid})
}

type areaRequest struct {
	Label string          `json:"label"`
	Area  json.RawMessage `json:"area"`
}

func (a *api) setArea(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	var req areaRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	area, err := pipeline.ParseArea(req.Area, req.Label)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := c.SetActiveArea(*area, req.Label); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

func (a *api) clearArea(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := c.ClearActiveArea(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

type placeRequest struct {
	Name string `json:"name"`
}

// setAreaFromPlace resolves a place name and makes its boundary the active
// area. Line-only boundaries cannot restrict points and are rejected.
func (a *api) setAreaFromPlace(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	var req placeRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		a.fail(w, r, badRequest("missing name"))
		return
	}
	g := a.Boundaries.Resolve(r.Context(), name)
	if g == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "boundary not found"})
		return
	}
	f := geojson.NewFeature(g)
	f.Properties["name"] = name
	if err := c.SetActiveArea(pipeline.ActiveArea{Feature: f}, name); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

type filterRequest struct {
	Values []string `json:"values"`
	Value  string   `json:"value"`
}

func (a *api) setFilter(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	var req filterRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := c.SetFilter(chi.URLParam(r, "attr"), req.Values); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

func (a *api) toggleFilter(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	var req filterRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Value == "" {
		a.fail(w, r, badRequest("missing value"))
		return
	}
	if err := c.ToggleFilter(chi.URLParam(r, "attr"), req.Value); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

func (a *api) clearFilters(w http.ResponseWriter, r *http.Request) {
	id, c, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := c.ClearFilters(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, id, c)
}

func (a *api) runAnalysis(w http.ResponseWriter, r *http.Request) {
	_, c, ok := a.session(w, r)
	if !ok {
		return
	}
	bb, types, err := contextQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Analysis.Run(r.Context(), c.Filtered(), bb, types))
}

func (a *api) insights(w http.ResponseWriter, r *http.Request) {
	_, c, ok := a.session(w, r)
	if !ok {
		return
	}
	bb, types, err := contextQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Analysis.Insights(r.Context(), c.Filtered(), bb, types))
}

// contextQuery reads ?layers=a,b&bbox=... A bbox is required only when
// layers are requested.
func contextQuery(r *http.Request) (model.BBox, []model.LayerType, error) {
	q := r.URL.Query()
	var types []model.LayerType
	seen := make(map[model.LayerType]bool)
	for _, raw := range strings.Split(q.Get("layers"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		t, err := model.ParseLayerType(raw)
		if err != nil {
			return model.BBox{}, nil, badRequest("%v", err)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return model.BBox{}, nil, nil
	}
	bb, err := model.ParseBBox(q.Get("bbox"))
	if err != nil {
		return model.BBox{}, nil, badRequest("invalid bbox: %v", err)
	}
	return bb, types, nil
}
