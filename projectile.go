package main

const (
	ProjectileSpeed  = 300.0 // units/s
	ProjectileRadius = 5.0
	ProjectileDamage = 15
)

// Projectile is a bullet fired by a player
type Projectile struct {
	Body
	Vel    Vector `json:"vel"`
	Damage int    `json:"damage"`
	Source string `json:"source"` // owning player id
}

// NewProjectile creates a live, ownerless projectile with default damage
func NewProjectile(id string) *Projectile {
	return &Projectile{
		Body: Body{
			ID:     id,
			Type:   KindBullet,
			Radius: ProjectileRadius,
			Alive:  true,
		},
		Damage: ProjectileDamage,
	}
}

// SpawnProjectile builds a projectile leaving owner's position along its orientation
func SpawnProjectile(id string, owner *Player) *Projectile {
	b := NewProjectile(id)
	b.Source = owner.ID
	b.Pos = owner.Pos
	b.Orientation = owner.Orientation
	b.Vel = Direction(owner.Orientation).Mul(ProjectileSpeed)
	return b
}

// Update moves the projectile and reports what it hit. It dies once it is
// more than its radius outside the world, checked where it stands and where
// it lands.
func (b *Projectile) Update(dt float64, state *MatchState) []Event {
	if outsideWorld(b.Pos, b.Radius, state.World) {
		b.Alive = false
		return nil
	}
	b.Pos = b.Pos.Add(b.Vel.Mul(dt))
	if outsideWorld(b.Pos, b.Radius, state.World) {
		b.Alive = false
		return nil
	}

	for _, w := range state.wallsNear(b.Pos, b.Radius) {
		if Colliding(b, w) {
			return []Event{CollisionEvent(b, w)}
		}
	}
	for _, id := range sortedKeys(state.Entities.Players) {
		p := state.Entities.Players[id]
		if !p.Alive || p.ID == b.Source {
			continue
		}
		if Colliding(b, p) {
			return []Event{CollisionEvent(b, p)}
		}
	}
	return nil
}

// CollideWith damages a player that is not the projectile's source, or
// stops against a wall. Self-hits leave both untouched.
func (b *Projectile) CollideWith(other Entity, _ *MatchState) {
	if !b.Alive {
		return
	}
	switch o := other.(type) {
	case *Player:
		if o.ID == b.Source || !o.Alive {
			return
		}
		o.TakeDamage(b.Damage)
		b.Alive = false
	case *Wall:
		b.Alive = false
	case *Projectile:
	}
}
