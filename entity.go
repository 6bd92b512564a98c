package main

// EntityKind is the type tag carried by every entity
type EntityKind string

const (
	KindPlayer EntityKind = "player"
	KindBullet EntityKind = "bullet"
	KindWall   EntityKind = "wall"
)

// Body holds the attributes shared by every entity
type Body struct {
	ID          string     `json:"id"`
	Type        EntityKind `json:"type"`
	Pos         Vector     `json:"pos"`
	Orientation float64    `json:"orientation"` // radians
	Radius      float64    `json:"radius"`
	Alive       bool       `json:"alive"`
}

func (b *Body) body() *Body { return b }

// Ref returns the (kind, id) pair identifying the entity in a MatchState
func (b *Body) Ref() EntityRef {
	return EntityRef{Kind: b.Type, ID: b.ID}
}

// Entity is implemented only by *Player, *Projectile and *Wall.
// The unexported method keeps the set closed to this package.
type Entity interface {
	body() *Body
}

// EntityRef addresses an entity; ids are only unique within a kind
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Colliding reports whether two entities overlap. Circles collide when the
// distance between centres is less than the sum of their radii; walls are
// tested as axis-aligned rectangles. Walls never move, so two walls never
// collide.
func Colliding(a, b Entity) bool {
	wa, aIsWall := a.(*Wall)
	wb, bIsWall := b.(*Wall)
	switch {
	case aIsWall && bIsWall:
		return false
	case aIsWall:
		return circleHitsWall(b.body(), wa)
	case bIsWall:
		return circleHitsWall(a.body(), wb)
	}
	oa, ob := a.body(), b.body()
	return CheckCollision(oa.Pos.X, oa.Pos.Y, oa.Radius, ob.Pos.X, ob.Pos.Y, ob.Radius)
}

func circleHitsWall(c *Body, w *Wall) bool {
	// Outside the wall's enclosing circle there is nothing to test
	if !CheckCollision(c.Pos.X, c.Pos.Y, c.Radius, w.Pos.X, w.Pos.Y, w.Radius) {
		return false
	}
	return CheckCircleRectCollision(c.Pos, c.Radius, w.Pos, w.Width, w.Height)
}
