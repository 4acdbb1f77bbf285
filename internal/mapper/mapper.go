// Package mapper places points on a hierarchical cell grid.
package mapper

import "github.com/paulmach/orb"

// Interface is what density aggregation needs from a grid: the cell id of a
// point and the outline of a cell for drawing it.
type Interface interface {
	CellForPoint(p orb.Point, res int) (string, error)
	CellBoundary(cell string) (orb.Polygon, error)
}
