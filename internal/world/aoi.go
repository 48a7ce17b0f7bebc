package world

import (
	"math"

	"github.com/destromod/crowdnav/internal/vmath"
)

// AOIGrid implements a cell-based Area of Interest index over the X/Z plane.
// Queries return candidates from every cell the search radius touches; the
// caller does the exact distance filtering.
// Not safe for concurrent use; State guards it.

const cellSize = 20.0

type cellKey struct {
	cx int32
	cz int32
}

func toCellCoord(v float64) int32 {
	return int32(math.Floor(v / cellSize))
}

// AOIGrid tracks which entity ids are in which cells.
type AOIGrid struct {
	cells map[cellKey]map[string]struct{}
}

func NewAOIGrid() *AOIGrid {
	return &AOIGrid{
		cells: make(map[cellKey]map[string]struct{}),
	}
}

func (g *AOIGrid) key(p vmath.Vec3) cellKey {
	return cellKey{cx: toCellCoord(p[0]), cz: toCellCoord(p[2])}
}

// Add places an id into the grid.
func (g *AOIGrid) Add(id string, p vmath.Vec3) {
	k := g.key(p)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[string]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

// Remove takes an id out of the grid.
func (g *AOIGrid) Remove(id string, p vmath.Vec3) {
	k := g.key(p)
	cell := g.cells[k]
	if cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move updates an id's cell when its position changes.
func (g *AOIGrid) Move(id string, from, to vmath.Vec3) {
	if g.key(from) == g.key(to) {
		return
	}
	g.Remove(id, from)
	g.Add(id, to)
}

// NearbyInto appends every id in cells overlapping the square of half-width
// radius around p. buf is reused to avoid per-query allocation.
func (g *AOIGrid) NearbyInto(p vmath.Vec3, radius float64, buf []string) []string {
	buf = buf[:0]
	if radius < 0 || math.IsNaN(radius) {
		return buf
	}
	span := int32(math.Ceil(radius / cellSize))
	cx, cz := toCellCoord(p[0]), toCellCoord(p[2])
	for dx := -span; dx <= span; dx++ {
		for dz := -span; dz <= span; dz++ {
			for id := range g.cells[cellKey{cx: cx + dx, cz: cz + dz}] {
				buf = append(buf, id)
			}
		}
	}
	return buf
}
