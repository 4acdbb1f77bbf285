package geo

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	sfgeom "github.com/peterstace/simplefeatures/geom"
)

// Polygon overlay runs on simplefeatures; orb stays the geometry model
// everywhere else, so values are converted at this boundary.

func toOverlay(g orb.Geometry) sfgeom.Geometry {
	switch t := g.(type) {
	case orb.Polygon:
		return sfgeom.NewPolygonXY(polygonXY(t)...).AsGeometry()
	case orb.MultiPolygon:
		polys := make([][][]float64, 0, len(t))
		for _, p := range t {
			polys = append(polys, polygonXY(p))
		}
		return sfgeom.NewMultiPolygonXY(polys...).AsGeometry()
	}
	return sfgeom.Geometry{}
}

func polygonXY(p orb.Polygon) [][]float64 {
	rings := make([][]float64, 0, len(p))
	for _, r := range p {
		xy := make([]float64, 0, 2*len(r)+2)
		for _, pt := range r {
			xy = append(xy, pt[0], pt[1])
		}
		if len(r) > 0 && r[0] != r[len(r)-1] {
			xy = append(xy, r[0][0], r[0][1])
		}
		rings = append(rings, xy)
	}
	return rings
}

// fromOverlay keeps the polygonal parts of g. It returns nil when nothing
// areal is left, a Polygon for one part and a MultiPolygon otherwise.
func fromOverlay(g sfgeom.Geometry) orb.Geometry {
	var mp orb.MultiPolygon
	collectPolygons(g, &mp)
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}

func collectPolygons(g sfgeom.Geometry, out *orb.MultiPolygon) {
	switch g.Type() {
	case sfgeom.TypePolygon:
		p, _ := g.AsPolygon()
		if !p.IsEmpty() {
			*out = append(*out, polygonFromOverlay(p))
		}
	case sfgeom.TypeMultiPolygon:
		mp, _ := g.AsMultiPolygon()
		for i := range mp.NumPolygons() {
			if p := mp.PolygonN(i); !p.IsEmpty() {
				*out = append(*out, polygonFromOverlay(p))
			}
		}
	case sfgeom.TypeGeometryCollection:
		gc, _ := g.AsGeometryCollection()
		for i := range gc.NumGeometries() {
			collectPolygons(gc.GeometryN(i), out)
		}
	}
}

func polygonFromOverlay(p sfgeom.Polygon) orb.Polygon {
	out := orb.Polygon{ringFromOverlay(p.ExteriorRing())}
	for i := range p.NumInteriorRings() {
		out = append(out, ringFromOverlay(p.InteriorRingN(i)))
	}
	return out
}

func ringFromOverlay(ls sfgeom.LineString) orb.Ring {
	seq := ls.Coordinates()
	r := make(orb.Ring, 0, seq.Length())
	for i := range seq.Length() {
		xy := seq.GetXY(i)
		r = append(r, orb.Point{xy.X, xy.Y})
	}
	return r
}

// unionPolygons merges every polygonal input into disjoint polygons, ordered
// by the south-west corner of their bounds.
func unionPolygons(gs []orb.Geometry) ([]orb.Polygon, error) {
	in := make([]sfgeom.Geometry, 0, len(gs))
	for _, g := range gs {
		in = append(in, toOverlay(g))
	}
	merged, err := sfgeom.UnionMany(in)
	if err != nil {
		return nil, fmt.Errorf("%w: union: %w", ErrInvalidGeometry, err)
	}
	var mp orb.MultiPolygon
	collectPolygons(merged, &mp)
	sort.SliceStable(mp, func(i, j int) bool {
		a, b := mp[i].Bound().Min, mp[j].Bound().Min
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return mp, nil
}

// intersectPolygonal returns the areal part of a and b, or nil when they
// share no area.
func intersectPolygonal(a, b orb.Geometry) (orb.Geometry, error) {
	if !a.Bound().Intersects(b.Bound()) {
		return nil, nil
	}
	g, err := sfgeom.Intersection(toOverlay(a), toOverlay(b))
	if err != nil {
		return nil, fmt.Errorf("%w: intersection: %w", ErrInvalidGeometry, err)
	}
	return fromOverlay(g), nil
}
