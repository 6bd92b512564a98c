package main

import "sort"

const SpatialCellSize = 80.0 // ~2x player radius

// WallIndex is a fixed grid over the world for broad-phase wall queries.
// Walls never move, so it is built once per match.
type WallIndex struct {
	cols, rows int
	cells      [][]*Wall
}

// NewWallIndex buckets every wall into the cells its rectangle overlaps
func NewWallIndex(world World, walls map[string]*Wall) *WallIndex {
	cols := int(world.Width/SpatialCellSize) + 1
	rows := int(world.Height/SpatialCellSize) + 1
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &WallIndex{cols: cols, rows: rows, cells: make([][]*Wall, cols*rows)}
	for _, id := range sortedKeys(walls) {
		w := walls[id]
		minCX, minCY, maxCX, maxCY := g.span(w.Pos.X-w.Width/2, w.Pos.Y-w.Height/2, w.Pos.X+w.Width/2, w.Pos.Y+w.Height/2)
		for cy := minCY; cy <= maxCY; cy++ {
			for cx := minCX; cx <= maxCX; cx++ {
				idx := cy*g.cols + cx
				g.cells[idx] = append(g.cells[idx], w)
			}
		}
	}
	return g
}

func (g *WallIndex) span(x0, y0, x1, y1 float64) (minCX, minCY, maxCX, maxCY int) {
	clampCol := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= g.cols {
			return g.cols - 1
		}
		return v
	}
	clampRow := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= g.rows {
			return g.rows - 1
		}
		return v
	}
	return clampCol(int(x0 / SpatialCellSize)), clampRow(int(y0 / SpatialCellSize)),
		clampCol(int(x1 / SpatialCellSize)), clampRow(int(y1 / SpatialCellSize))
}

// Near returns the walls in cells touched by the circle's bounding box,
// deduplicated and ordered by id.
func (g *WallIndex) Near(pos Vector, radius float64) []*Wall {
	if g == nil {
		return nil
	}
	minCX, minCY, maxCX, maxCY := g.span(pos.X-radius, pos.Y-radius, pos.X+radius, pos.Y+radius)
	seen := make(map[*Wall]bool)
	var result []*Wall
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			for _, w := range g.cells[cy*g.cols+cx] {
				if !seen[w] {
					seen[w] = true
					result = append(result, w)
				}
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
