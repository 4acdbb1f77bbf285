package pipeline

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/geo"
)

// Recompute derives the filtered dataset from base and st:
//  1. merge base with the synthetic points
//  2. flatten attributes
//  3. keep points inside the active area, if any
//  4. keep points matching every non-empty filter
//
// Order follows base then synthetic points. Inputs are not modified.
func Recompute(base []model.Memorial, st State) ([]model.Record, error) {
	records := make([]model.Record, 0, len(base)+len(st.Synthetic))
	for _, m := range base {
		records = append(records, model.Flatten(m))
	}
	for _, m := range st.Synthetic {
		records = append(records, model.Flatten(m))
	}

	if st.Area != nil {
		var err error
		records, err = withinArea(records, st.Area)
		if err != nil {
			return nil, err
		}
	}

	if len(st.Filters) == 0 {
		return records, nil
	}
	out := records[:0:0]
	for _, r := range records {
		if matches(r, st.Filters) {
			out = append(out, r)
		}
	}
	return out, nil
}

func withinArea(records []model.Record, a *ActiveArea) ([]model.Record, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Feature != nil {
		pts := geojson.NewFeatureCollection()
		for i, r := range records {
			f := geojson.NewFeature(orb.Point{r.Lng, r.Lat})
			f.ID = i
			pts.Append(f)
		}
		kept, err := geo.Clip(pts, a.Feature.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArea, err)
		}
		out := make([]model.Record, 0, len(kept.Features))
		for _, f := range kept.Features {
			out = append(out, records[f.ID.(int)])
		}
		return out, nil
	}

	var members []orb.Geometry
	for _, f := range a.Collection.Features {
		if f != nil && polygonal(f.Geometry) {
			members = append(members, f.Geometry)
		}
	}
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		p := orb.Point{r.Lng, r.Lat}
		for _, g := range members {
			if geo.PointInPolygon(p, g) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func matches(r model.Record, filters Filters) bool {
	for attr, allowed := range filters {
		if len(allowed) == 0 {
			continue
		}
		if _, ok := allowed[model.AttrString(r.Attrs[attr])]; !ok {
			return false
		}
	}
	return true
}
