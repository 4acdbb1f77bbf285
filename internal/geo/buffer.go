package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	orbgeo "github.com/paulmach/orb/geo"
)

const circleSteps = 64

// BufferFeature buffers a single feature and returns it as a one-element
// collection.
func BufferFeature(f *geojson.Feature, radius float64, unit Unit) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if f != nil {
		fc.Append(f)
	}
	return Buffer(fc, radius, unit)
}

// Buffer returns a polygon collection where each feature is the area within
// radius of the corresponding input feature. Properties and ids are kept.
func Buffer(fc *geojson.FeatureCollection, radius float64, unit Unit) (*geojson.FeatureCollection, error) {
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, errors.New("buffer radius must be a positive number")
	}
	meters := unit.toMeters(radius)
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out, nil
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		g, err := bufferGeometry(f.Geometry, meters)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
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

func bufferGeometry(g orb.Geometry, meters float64) (orb.Geometry, error) {
	if p, ok := g.(orb.Point); ok {
		return orb.Polygon{geodesicCircle(p, meters)}, nil
	}
	pl := newPlane(g.Bound().Center())
	var parts []orb.Geometry
	if err := collectBufferParts(g, pl, meters, &parts); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	merged, err := unionPolygons(parts)
	if err != nil {
		return nil, err
	}
	out := make(orb.MultiPolygon, 0, len(merged))
	for _, p := range merged {
		out = append(out, pl.unprojectPolygon(p))
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// collectBufferParts appends projected polygons whose union is the buffer
// of g.
func collectBufferParts(g orb.Geometry, pl plane, meters float64, parts *[]orb.Geometry) error {
	switch t := g.(type) {
	case orb.Point:
		*parts = append(*parts, orb.Polygon{pl.projectRing(geodesicCircle(t, meters))})
	case orb.MultiPoint:
		for _, p := range t {
			_ = collectBufferParts(p, pl, meters, parts)
		}
	case orb.LineString:
		*parts = append(*parts, lineCapsules(pl.projectLine(t), meters)...)
	case orb.MultiLineString:
		for _, ls := range t {
			_ = collectBufferParts(ls, pl, meters, parts)
		}
	case orb.Ring:
		*parts = append(*parts, lineCapsules(pl.projectLine(orb.LineString(t)), meters)...)
	case orb.Polygon:
		if err := validatePolygon(t); err != nil {
			return err
		}
		proj := make(orb.Polygon, 0, len(t))
		for _, r := range t {
			proj = append(proj, pl.projectRing(r))
		}
		*parts = append(*parts, proj)
		for _, r := range t {
			*parts = append(*parts, lineCapsules(pl.projectLine(orb.LineString(r)), meters)...)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			if err := collectBufferParts(p, pl, meters, parts); err != nil {
				return err
			}
		}
	case orb.Collection:
		for _, m := range t {
			if err := collectBufferParts(m, pl, meters, parts); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: cannot buffer %s", ErrInvalidGeometry, g.GeoJSONType())
	}
	return nil
}

// geodesicCircle returns a closed counter-clockwise ring around center.
func geodesicCircle(center orb.Point, meters float64) orb.Ring {
	r := make(orb.Ring, 0, circleSteps+1)
	for i := range circleSteps {
		bearing := 360 - float64(i)*360/circleSteps
		r = append(r, orbgeo.PointAtBearingAndDistance(center, bearing, meters))
	}
	return append(r, r[0])
}

// lineCapsules returns one stadium polygon per segment of a projected line.
func lineCapsules(ls orb.LineString, meters float64) []orb.Geometry {
	if len(ls) == 1 {
		return []orb.Geometry{orb.Polygon{capsule(ls[0], ls[0], meters)}}
	}
	out := make([]orb.Geometry, 0, len(ls)-1)
	for i := 0; i+1 < len(ls); i++ {
		out = append(out, orb.Polygon{capsule(ls[i], ls[i+1], meters)})
	}
	return out
}

func capsule(a, b orb.Point, r float64) orb.Ring {
	const half = circleSteps / 2
	phi := math.Atan2(b[1]-a[1], b[0]-a[0])
	out := make(orb.Ring, 0, circleSteps+3)
	arc := func(c orb.Point, from float64) {
		for k := 0; k <= half; k++ {
			th := from + math.Pi*float64(k)/half
			out = append(out, orb.Point{c[0] + r*math.Cos(th), c[1] + r*math.Sin(th)})
		}
	}
	arc(b, phi-math.Pi/2)
	arc(a, phi+math.Pi/2)
	return append(out, out[0])
}

func (pl plane) projectLine(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, 0, len(ls))
	for _, p := range ls {
		q := pl.fwd(p)
		if len(out) > 0 && out[len(out)-1] == q {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (pl plane) projectRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = pl.fwd(p)
	}
	return out
}

func (pl plane) unprojectPolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, r := range p {
		ring := make(orb.Ring, len(r))
		for i, q := range r {
			ring[i] = pl.inv(q)
		}
		out = append(out, ring)
	}
	return out
}
