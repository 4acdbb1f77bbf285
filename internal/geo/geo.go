// Package geo implements the geometry primitives used by the filter and
// enrichment stages: buffer, intersect, dissolve and clip over GeoJSON
// collections, plus point/line distance helpers. Every operation returns new
// values and leaves its inputs untouched.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

type Unit string

const (
	Kilometers Unit = "kilometers"
	Meters     Unit = "meters"
	Miles      Unit = "miles"
)

func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "", Kilometers, "km":
		return Kilometers, nil
	case Meters, "m":
		return Meters, nil
	case Miles, "mi":
		return Miles, nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

func (u Unit) toMeters(v float64) float64 {
	switch u {
	case Meters:
		return v
	case Miles:
		return v * 1609.344
	default:
		return v * 1000
	}
}

// ValidatePolygonal checks that g is a non-empty Polygon or MultiPolygon
// with finite coordinates and non-degenerate outer rings.
func ValidatePolygonal(g orb.Geometry) error {
	switch t := g.(type) {
	case nil:
		return fmt.Errorf("%w: geometry is nil", ErrInvalidGeometry)
	case orb.Polygon:
		return validatePolygon(t)
	case orb.MultiPolygon:
		if len(t) == 0 {
			return fmt.Errorf("%w: empty multipolygon", ErrInvalidGeometry)
		}
		for i, p := range t {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is not polygonal", ErrInvalidGeometry, g.GeoJSONType())
	}
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty polygon", ErrInvalidGeometry)
	}
	for i, r := range p {
		for _, pt := range r {
			if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
				return fmt.Errorf("%w: ring %d has non-finite coordinates", ErrInvalidGeometry, i)
			}
		}
		if distinctVertices(r) < 3 {
			return fmt.Errorf("%w: ring %d has < 3 distinct vertices", ErrInvalidGeometry, i)
		}
		if i == 0 && planar.Area(r) == 0 {
			return fmt.Errorf("%w: outer ring has zero area", ErrInvalidGeometry)
		}
	}
	return nil
}

func distinctVertices(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// PointInPolygon reports whether p lies inside g (Polygon or MultiPolygon).
// Points on the boundary count as inside.
func PointInPolygon(p orb.Point, g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return t.Bound().Contains(p) && planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return t.Bound().Contains(p) && planar.MultiPolygonContains(t, p)
	}
	return false
}

// Distance is the haversine distance in meters.
func Distance(a, b orb.Point) float64 {
	return orbgeo.DistanceHaversine(a, b)
}

// PointToLineDistance returns the meters from p to the nearest projected
// position on ls.
func PointToLineDistance(p orb.Point, ls orb.LineString) float64 {
	switch len(ls) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, ls[0])
	}
	pl := newPlane(p)
	origin := pl.fwd(p)
	best := math.Inf(1)
	for i := 0; i+1 < len(ls); i++ {
		a, b := pl.fwd(ls[i]), pl.fwd(ls[i+1])
		q := nearestOnSegment(origin, a, b)
		if d := Distance(p, pl.inv(q)); d < best {
			best = d
		}
	}
	return best
}

func nearestOnSegment(p, a, b orb.Point) orb.Point {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return a
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// DistanceToGeometry is the meters from p to the closest part of g. Polygons
// are measured to their rings. It returns +Inf for empty or unsupported input.
func DistanceToGeometry(p orb.Point, g orb.Geometry) float64 {
	best := math.Inf(1)
	switch t := g.(type) {
	case orb.Point:
		best = Distance(p, t)
	case orb.MultiPoint:
		for _, q := range t {
			best = math.Min(best, Distance(p, q))
		}
	case orb.LineString:
		best = PointToLineDistance(p, t)
	case orb.MultiLineString:
		for _, ls := range t {
			best = math.Min(best, PointToLineDistance(p, ls))
		}
	case orb.Ring:
		best = PointToLineDistance(p, orb.LineString(t))
	case orb.Polygon:
		for _, r := range t {
			best = math.Min(best, PointToLineDistance(p, orb.LineString(r)))
		}
	case orb.MultiPolygon:
		for _, poly := range t {
			best = math.Min(best, DistanceToGeometry(p, poly))
		}
	case orb.Collection:
		for _, m := range t {
			best = math.Min(best, DistanceToGeometry(p, m))
		}
	}
	return best
}

// Simplify runs Douglas-Peucker on a copy of g. Polygonal rings that would
// collapse keep their original vertices.
func Simplify(g orb.Geometry, tolerance float64) orb.Geometry {
	if g == nil || tolerance <= 0 {
		return orb.Clone(g)
	}
	out := simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(g))
	switch t := out.(type) {
	case orb.Polygon:
		if ValidatePolygonal(t) != nil {
			return orb.Clone(g)
		}
	case orb.MultiPolygon:
		if ValidatePolygonal(t) != nil {
			return orb.Clone(g)
		}
	}
	return out
}

// plane is a local equirectangular projection in meters around an origin.
type plane struct {
	lng0, lat0 float64
	kx, ky     float64
}

func newPlane(origin orb.Point) plane {
	ky := orb.EarthRadius * math.Pi / 180
	return plane{
		lng0: origin[0],
		lat0: origin[1],
		kx:   ky * math.Cos(origin[1]*math.Pi/180),
		ky:   ky,
	}
}

func (pl plane) fwd(p orb.Point) orb.Point {
	return orb.Point{(p[0] - pl.lng0) * pl.kx, (p[1] - pl.lat0) * pl.ky}
}

func (pl plane) inv(p orb.Point) orb.Point {
	kx := pl.kx
	if kx == 0 {
		kx = pl.ky
	}
	return orb.Point{p[0]/kx + pl.lng0, p[1]/pl.ky + pl.lat0}
}
