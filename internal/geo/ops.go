package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Clip keeps the point features of points that lie inside boundary. Any
// non-point feature is dropped.
func Clip(points *geojson.FeatureCollection, boundary orb.Geometry) (*geojson.FeatureCollection, error) {
	if err := ValidatePolygonal(boundary); err != nil {
		return nil, fmt.Errorf("clip: %w", err)
	}
	out := geojson.NewFeatureCollection()
	if points == nil {
		return out, nil
	}
	for _, f := range points.Features {
		if f == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		if PointInPolygon(p, boundary) {
			out.Append(f)
		}
	}
	return out, nil
}

// Intersect returns the parts of fc that fall inside target. Polygonal
// members are cut geometrically; point members are kept or dropped by a
// point-in-polygon test. Lines and empty results are dropped.
func Intersect(target orb.Geometry, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	if err := ValidatePolygonal(target); err != nil {
		return nil, fmt.Errorf("intersect: %w", err)
	}
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out, nil
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		var g orb.Geometry
		switch t := f.Geometry.(type) {
		case orb.Point:
			if PointInPolygon(t, target) {
				g = t
			}
		case orb.MultiPoint:
			var kept orb.MultiPoint
			for _, p := range t {
				if PointInPolygon(p, target) {
					kept = append(kept, p)
				}
			}
			if len(kept) > 0 {
				g = kept
			}
		case orb.Polygon, orb.MultiPolygon:
			if err := ValidatePolygonal(t); err != nil {
				return nil, fmt.Errorf("intersect feature %d: %w", i, err)
			}
			cut, err := intersectPolygonal(t, target)
			if err != nil {
				return nil, fmt.Errorf("intersect feature %d: %w", i, err)
			}
			g = cut
		}
		if g == nil {
			continue
		}
		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		nf.Properties = f.Properties.Clone()
		out.Append(nf)
	}
	return out, nil
}

// Dissolve merges polygons whose areas overlap or touch. When propertyName
// is set only features sharing that property's value are merged, and each
// output feature carries the value.
func Dissolve(fc *geojson.FeatureCollection, propertyName string) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out, nil
	}

	type group struct {
		value any
		geoms []orb.Geometry
	}
	var order []string
	groups := map[string]*group{}
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		if err := ValidatePolygonal(f.Geometry); err != nil {
			return nil, fmt.Errorf("dissolve feature %d: %w", i, err)
		}
		var value any
		key := ""
		if propertyName != "" {
			value = f.Properties[propertyName]
			key = fmt.Sprintf("%T:%v", value, value)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{value: value}
			groups[key] = g
			order = append(order, key)
		}
		g.geoms = append(g.geoms, f.Geometry)
	}

	for _, key := range order {
		g := groups[key]
		merged, err := unionPolygons(g.geoms)
		if err != nil {
			return nil, fmt.Errorf("dissolve: %w", err)
		}
		for _, p := range merged {
			nf := geojson.NewFeature(p)
			if propertyName != "" {
				nf.Properties[propertyName] = g.value
			}
			out.Append(nf)
		}
	}
	return out, nil
}
