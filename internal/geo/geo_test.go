package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func pointFC(pts ...orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range pts {
		f := geojson.NewFeature(p)
		f.ID = i
		fc.Append(f)
	}
	return fc
}

func polygonArea(g orb.Geometry) float64 {
	return planar.Area(g)
}

func TestClip_SubsetAndIdempotent(t *testing.T) {
	boundary := square(0, 0, 10, 10)
	in := pointFC(
		orb.Point{1, 1}, orb.Point{11, 1}, orb.Point{5, 5},
		orb.Point{-1, -1}, orb.Point{10, 10}, orb.Point{9.99, 0.01},
	)
	in.Append(geojson.NewFeature(orb.LineString{{1, 1}, {2, 2}}))

	out, err := Clip(in, boundary)
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	if len(out.Features) > len(in.Features) {
		t.Fatalf("output larger than input: %d > %d", len(out.Features), len(in.Features))
	}
	for _, f := range out.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			t.Fatalf("non-point feature survived clip: %T", f.Geometry)
		}
		if !PointInPolygon(p, boundary) {
			t.Fatalf("point %v outside boundary", p)
		}
	}
	if len(out.Features) != 4 {
		t.Fatalf("kept=%d want 4", len(out.Features))
	}

	again, err := Clip(out, boundary)
	if err != nil {
		t.Fatalf("Clip again: %v", err)
	}
	if len(again.Features) != len(out.Features) {
		t.Fatalf("clip not idempotent: %d vs %d", len(again.Features), len(out.Features))
	}
	for i := range again.Features {
		if again.Features[i].ID != out.Features[i].ID {
			t.Fatalf("feature %d differs after re-clip", i)
		}
	}
	if len(in.Features) != 7 {
		t.Fatalf("input mutated")
	}
}

func TestClip_InvalidBoundary(t *testing.T) {
	_, err := Clip(pointFC(orb.Point{0, 0}), orb.LineString{{0, 0}, {1, 1}})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("err=%v want ErrInvalidGeometry", err)
	}
	_, err = Clip(pointFC(orb.Point{0, 0}), orb.Polygon{{{0, 0}, {1, 1}, {0, 0}}})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("degenerate ring err=%v want ErrInvalidGeometry", err)
	}
}

func TestPointInPolygon_MultiPolygonAndHoles(t *testing.T) {
	mp := orb.MultiPolygon{
		{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}, {{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}}},
		square(10, 10, 11, 11),
	}
	cases := []struct {
		p    orb.Point
		want bool
	}{
		{orb.Point{0.5, 0.5}, true},
		{orb.Point{2, 2}, false},
		{orb.Point{10.5, 10.5}, true},
		{orb.Point{7, 7}, false},
		{orb.Point{0, 2}, true},
	}
	for _, c := range cases {
		if got := PointInPolygon(c.p, mp); got != c.want {
			t.Fatalf("PointInPolygon(%v)=%v want %v", c.p, got, c.want)
		}
	}
	if PointInPolygon(orb.Point{0, 0}, orb.LineString{{0, 0}, {1, 1}}) {
		t.Fatal("non-polygonal geometry must never contain points")
	}
}

func TestIntersect_PolygonsPointsAndLines(t *testing.T) {
	target := square(0, 0, 2, 2)
	fc := geojson.NewFeatureCollection()
	overlap := geojson.NewFeature(square(1, 1, 3, 3))
	overlap.Properties["name"] = "overlap"
	fc.Append(overlap)
	fc.Append(geojson.NewFeature(square(5, 5, 6, 6)))
	fc.Append(geojson.NewFeature(square(0.5, 0.5, 1.5, 1.5)))
	fc.Append(geojson.NewFeature(orb.Point{1, 1}))
	fc.Append(geojson.NewFeature(orb.Point{3, 3}))
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))

	out, err := Intersect(target, fc)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	if len(out.Features) != 3 {
		t.Fatalf("features=%d want 3", len(out.Features))
	}
	if a := polygonArea(out.Features[0].Geometry); math.Abs(a-1) > 1e-5 {
		t.Fatalf("overlap area=%v want 1", a)
	}
	if out.Features[0].Properties["name"] != "overlap" {
		t.Fatalf("properties not carried: %v", out.Features[0].Properties)
	}
	if a := polygonArea(out.Features[1].Geometry); math.Abs(a-1) > 1e-9 {
		t.Fatalf("contained area=%v want 1", a)
	}
	if p, ok := out.Features[2].Geometry.(orb.Point); !ok || p != (orb.Point{1, 1}) {
		t.Fatalf("point member=%v", out.Features[2].Geometry)
	}
	if len(fc.Features[0].Geometry.(orb.Polygon)[0]) != 5 {
		t.Fatal("input mutated")
	}
}

func TestIntersect_TargetHoleIsSubtracted(t *testing.T) {
	target := orb.Polygon{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
		{{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}},
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(0, 0, 2, 2)))

	out, err := Intersect(target, fc)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	if len(out.Features) != 1 {
		t.Fatalf("features=%d want 1", len(out.Features))
	}
	if a := polygonArea(out.Features[0].Geometry); math.Abs(a-3) > 1e-5 {
		t.Fatalf("area=%v want 3", a)
	}
}

func TestIntersect_InvalidTarget(t *testing.T) {
	_, err := Intersect(orb.Point{0, 0}, geojson.NewFeatureCollection())
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("err=%v want ErrInvalidGeometry", err)
	}
}

func TestDissolve_OverlappingAndTouching(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(0, 0, 2, 2)))
	fc.Append(geojson.NewFeature(square(1, 1, 3, 3)))
	fc.Append(geojson.NewFeature(square(10, 0, 11, 1)))
	fc.Append(geojson.NewFeature(square(11, 0, 12, 1)))
	fc.Append(geojson.NewFeature(square(20, 20, 21, 21)))

	out, err := Dissolve(fc, "")
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	if len(out.Features) != 3 {
		t.Fatalf("features=%d want 3", len(out.Features))
	}
	if a := polygonArea(out.Features[0].Geometry); math.Abs(a-7) > 1e-4 {
		t.Fatalf("overlap union area=%v want 7", a)
	}
	if a := polygonArea(out.Features[1].Geometry); math.Abs(a-2) > 1e-4 {
		t.Fatalf("touching union area=%v want 2", a)
	}
}

func TestDissolve_GroupsByProperty(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(square(0, 0, 2, 2))
	a.Properties["zone"] = "north"
	b := geojson.NewFeature(square(1, 1, 3, 3))
	b.Properties["zone"] = "south"
	c := geojson.NewFeature(square(1.5, 0.5, 4, 1.5))
	c.Properties["zone"] = "north"
	fc.Append(a)
	fc.Append(b)
	fc.Append(c)

	out, err := Dissolve(fc, "zone")
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	if len(out.Features) != 2 {
		t.Fatalf("features=%d want 2", len(out.Features))
	}
	if out.Features[0].Properties["zone"] != "north" || out.Features[1].Properties["zone"] != "south" {
		t.Fatalf("group order/properties wrong: %v %v", out.Features[0].Properties, out.Features[1].Properties)
	}
}

func TestDissolve_FrameProducesHole(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(0, 0, 3, 1)))
	fc.Append(geojson.NewFeature(square(-0.25, -0.5, 1, 3.5)))
	fc.Append(geojson.NewFeature(square(0, 2, 3, 3)))
	fc.Append(geojson.NewFeature(square(2, -0.5, 3.25, 3.5)))

	out, err := Dissolve(fc, "")
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	if len(out.Features) != 1 {
		t.Fatalf("features=%d want 1", len(out.Features))
	}
	poly, ok := out.Features[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry=%T want Polygon", out.Features[0].Geometry)
	}
	if len(poly) != 2 {
		t.Fatalf("rings=%d want outer+1 hole", len(poly))
	}
	if PointInPolygon(orb.Point{1.5, 1.5}, poly) {
		t.Fatal("hole center must be outside")
	}
	if !PointInPolygon(orb.Point{0.5, 0.5}, poly) {
		t.Fatal("frame body must be inside")
	}
}

func TestDissolve_GridMergesIntoOne(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for x := range 3 {
		for y := range 3 {
			fc.Append(geojson.NewFeature(square(float64(x), float64(y), float64(x+1), float64(y+1))))
		}
	}
	out, err := Dissolve(fc, "")
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	if len(out.Features) != 1 {
		t.Fatalf("features=%d want 1", len(out.Features))
	}
	poly, ok := out.Features[0].Geometry.(orb.Polygon)
	if !ok || len(poly) != 1 {
		t.Fatalf("geometry=%v want one ring", out.Features[0].Geometry)
	}
	if a := polygonArea(poly); math.Abs(a-9) > 1e-9 {
		t.Fatalf("area=%v want 9", a)
	}
}

func TestIntersect_SharedEdgesAndLShape(t *testing.T) {
	target := square(0, 0, 2, 2)
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(2, 0, 4, 2)))
	fc.Append(geojson.NewFeature(square(1, 0, 3, 2)))
	fc.Append(geojson.NewFeature(orb.Polygon{{{-1, -1}, {1, -1}, {1, 1}, {3, 1}, {3, 3}, {-1, 3}, {-1, -1}}}))

	out, err := Intersect(target, fc)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	if len(out.Features) != 2 {
		t.Fatalf("features=%d want 2 (edge contact has no area)", len(out.Features))
	}
	if a := polygonArea(out.Features[0].Geometry); math.Abs(a-2) > 1e-9 {
		t.Fatalf("collinear overlap area=%v want 2", a)
	}
	if a := polygonArea(out.Features[1].Geometry); math.Abs(a-3) > 1e-9 {
		t.Fatalf("L-shape area=%v want 3", a)
	}
}

func TestDissolve_RejectsNonPolygons(t *testing.T) {
	_, err := Dissolve(pointFC(orb.Point{0, 0}), "")
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("err=%v want ErrInvalidGeometry", err)
	}
}

func TestBuffer_PointIsGeodesicCircle(t *testing.T) {
	center := orb.Point{-70.65, -33.45}
	out, err := BufferFeature(geojson.NewFeature(center), 0.5, Kilometers)
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if len(out.Features) != 1 {
		t.Fatalf("features=%d want 1", len(out.Features))
	}
	poly := out.Features[0].Geometry.(orb.Polygon)
	if len(poly[0]) != circleSteps+1 {
		t.Fatalf("ring size=%d want %d", len(poly[0]), circleSteps+1)
	}
	for _, p := range poly[0] {
		if d := Distance(center, p); math.Abs(d-500) > 5 {
			t.Fatalf("vertex distance=%v want ~500", d)
		}
	}
	if !PointInPolygon(center, poly) {
		t.Fatal("center must be inside its buffer")
	}
}

func TestBuffer_LineStrings(t *testing.T) {
	a := orb.Point{-70.65, -33.45}
	b := orb.Point{-70.64, -33.45}
	c := orb.Point{-70.63, -33.45}
	d := orb.Point{-70.63, -33.44}

	cases := map[string]orb.LineString{
		"segment":   {a, b},
		"collinear": {a, b, c},
		"corner":    {a, b, c, d},
	}
	for name, ls := range cases {
		f := geojson.NewFeature(ls)
		f.Properties["kind"] = name
		out, err := BufferFeature(f, 100, Meters)
		if err != nil {
			t.Fatalf("%s: Buffer: %v", name, err)
		}
		poly, ok := out.Features[0].Geometry.(orb.Polygon)
		if !ok {
			t.Fatalf("%s: geometry=%T want single Polygon", name, out.Features[0].Geometry)
		}
		if out.Features[0].Properties["kind"] != name {
			t.Fatalf("%s: properties not kept", name)
		}
		for i := 0; i+1 < len(ls); i++ {
			mid := orb.Point{(ls[i][0] + ls[i+1][0]) / 2, (ls[i][1] + ls[i+1][1]) / 2}
			if !PointInPolygon(mid, poly) {
				t.Fatalf("%s: segment midpoint %d outside buffer", name, i)
			}
		}
		near := orbgeo.PointAtBearingAndDistance(a, 180, 60)
		far := orbgeo.PointAtBearingAndDistance(a, 180, 200)
		if !PointInPolygon(near, poly) {
			t.Fatalf("%s: point 60m away must be inside", name)
		}
		if PointInPolygon(far, poly) {
			t.Fatalf("%s: point 200m away must be outside", name)
		}
	}
}

func TestBuffer_RejectsBadRadius(t *testing.T) {
	if _, err := Buffer(pointFC(orb.Point{0, 0}), 0, Kilometers); err == nil {
		t.Fatal("expected error for zero radius")
	}
}

func TestPointToLineDistance(t *testing.T) {
	a := orb.Point{-70.65, -33.45}
	b := orbgeo.PointAtBearingAndDistance(a, 90, 1000)
	mid := orbgeo.PointAtBearingAndDistance(a, 90, 500)
	p := orbgeo.PointAtBearingAndDistance(mid, 0, 100)

	if d := PointToLineDistance(p, orb.LineString{a, b}); math.Abs(d-100) > 1 {
		t.Fatalf("perpendicular distance=%v want ~100", d)
	}
	beyond := orbgeo.PointAtBearingAndDistance(b, 90, 250)
	if d := PointToLineDistance(beyond, orb.LineString{a, b}); math.Abs(d-250) > 1 {
		t.Fatalf("endpoint distance=%v want ~250", d)
	}
	if !math.IsInf(PointToLineDistance(p, nil), 1) {
		t.Fatal("empty line must be +Inf")
	}
}

func TestSimplify_DoesNotMutateInput(t *testing.T) {
	ls := orb.LineString{{0, 0}, {1, 0.0001}, {2, 0}, {3, 0}}
	got := Simplify(ls, 0.001).(orb.LineString)
	if len(got) != 2 {
		t.Fatalf("simplified=%v want 2 points", got)
	}
	if len(ls) != 4 {
		t.Fatal("input mutated")
	}
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]Unit{"": Kilometers, "m": Meters, "miles": Miles} {
		got, err := ParseUnit(in)
		if err != nil || got != want {
			t.Fatalf("ParseUnit(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseUnit("parsecs"); err == nil {
		t.Fatal("expected error")
	}
}
