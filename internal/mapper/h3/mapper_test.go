package h3mapper

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func TestCellForPoint_BoundaryContainsPoint(t *testing.T) {
	m := New()
	p := orb.Point{-70.6506, -33.4372}
	cell, err := m.CellForPoint(p, 8)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	again, _ := m.CellForPoint(orb.Point{-70.6506, -33.4372}, 8)
	if cell != again {
		t.Fatal("same point must map to the same cell")
	}
	hex, err := m.CellBoundary(cell)
	if err != nil {
		t.Fatalf("CellBoundary: %v", err)
	}
	if n := len(hex[0]); n != 7 {
		t.Fatalf("hexagon ring has %d points, want 7 (closed)", n)
	}
	if hex[0][0] != hex[0][6] {
		t.Fatal("ring must be closed")
	}
	if !planar.PolygonContains(hex, p) {
		t.Fatal("cell boundary must contain the point")
	}
}

func TestCellForPoint_NearbyPointsShareCoarseCell(t *testing.T) {
	m := New()
	a, _ := m.CellForPoint(orb.Point{-70.6506, -33.4372}, 5)
	b, _ := m.CellForPoint(orb.Point{-70.6510, -33.4375}, 5)
	if a == "" || a != b {
		t.Fatalf("cells %q and %q should match at res 5", a, b)
	}
	fine, _ := m.CellForPoint(orb.Point{-70.6506, -33.4372}, 12)
	if fine == a {
		t.Fatal("resolution must change the cell id")
	}
}

func TestInvalidInput(t *testing.T) {
	m := New()
	if _, err := m.CellForPoint(orb.Point{0, 0}, -1); err == nil {
		t.Fatal("expected error for res=-1")
	}
	if _, err := m.CellForPoint(orb.Point{0, 0}, 16); err == nil {
		t.Fatal("expected error for res=16")
	}
	if _, err := m.CellForPoint(orb.Point{0, 91}, 8); err == nil {
		t.Fatal("expected error for latitude 91")
	}
	if _, err := m.CellBoundary("not-a-cell"); err == nil {
		t.Fatal("expected error for bad cell")
	}
}
