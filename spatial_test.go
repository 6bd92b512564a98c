package main

import "testing"

func testWalls(descs ...WallDescriptor) map[string]*Wall {
	walls := make(map[string]*Wall, len(descs))
	for _, d := range descs {
		walls[d.ID] = NewWall(d)
	}
	return walls
}

func TestWallIndexNear(t *testing.T) {
	world := World{Width: 960, Height: 720}
	idx := NewWallIndex(world, testWalls(
		WallDescriptor{ID: "a", X: 100, Y: 100, Width: 20, Height: 20},
		WallDescriptor{ID: "b", X: 800, Y: 600, Width: 20, Height: 20},
	))

	near := idx.Near(Vector{X: 110, Y: 110}, 20)
	if len(near) != 1 || near[0].ID != "a" {
		t.Errorf("expected wall a near (110,110), got %d walls", len(near))
	}

	if got := idx.Near(Vector{X: 480, Y: 360}, 20); len(got) != 0 {
		t.Errorf("expected no walls in the middle, got %d", len(got))
	}
}

func TestWallIndexSpanningWallDeduplicated(t *testing.T) {
	world := World{Width: 960, Height: 720}
	idx := NewWallIndex(world, testWalls(
		WallDescriptor{ID: "long", X: 480, Y: 10, Width: 960, Height: 20},
		WallDescriptor{ID: "post", X: 500, Y: 40, Width: 10, Height: 10},
	))

	near := idx.Near(Vector{X: 480, Y: 30}, 200)
	if len(near) != 2 {
		t.Fatalf("expected 2 walls, got %d", len(near))
	}
	if near[0].ID != "long" || near[1].ID != "post" {
		t.Errorf("expected walls ordered by id, got %s, %s", near[0].ID, near[1].ID)
	}
}

func TestWallIndexOutOfBoundsQuery(t *testing.T) {
	world := World{Width: 960, Height: 720}
	idx := NewWallIndex(world, testWalls(
		WallDescriptor{ID: "corner", X: 950, Y: 710, Width: 20, Height: 20},
	))
	// Queries past the edge clamp into the border cells
	if got := idx.Near(Vector{X: 2000, Y: 2000}, 10); len(got) != 1 {
		t.Errorf("expected the corner wall, got %d", len(got))
	}
	if got := idx.Near(Vector{X: -500, Y: -500}, 10); len(got) != 0 {
		t.Errorf("expected nothing at the opposite corner, got %d", len(got))
	}
}

func TestWallIndexNil(t *testing.T) {
	var idx *WallIndex
	if idx.Near(Vector{}, 10) != nil {
		t.Error("nil index should return nil")
	}
}
