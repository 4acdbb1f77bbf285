package h3mapper

import (
	"fmt"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/animita-app/animitas-sub001/internal/mapper"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellForPoint(p orb.Point, res int) (string, error) {
	if res < 0 || res > 15 {
		return "", fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	if p[1] < -90 || p[1] > 90 || p[0] < -180 || p[0] > 180 {
		return "", fmt.Errorf("point %v out of range", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellBoundary returns the closed hexagon (or pentagon) of cell in lng/lat.
func (m *Mapper) CellBoundary(cell string) (orb.Polygon, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return nil, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %q", cell)
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary: %w", err)
	}
	ring := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}
