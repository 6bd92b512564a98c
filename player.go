package main

import "math"

const (
	PlayerRadius   = 20.0
	PlayerMaxHP    = 100
	PlayerSpeed    = 200.0 // units/s
	FireCooldown   = 0.25  // seconds between shots
	maxInputWindow = 0.25  // longest duration a single input frame may cover, seconds
)

// Player is a participant's avatar in a match
type Player struct {
	Body
	Vel    Vector  `json:"vel"`
	HP     int     `json:"hp"`
	MaxHP  int     `json:"maxHp"`
	Kills  int     `json:"kills"`
	FireCD float64 `json:"-"` // fire cooldown remaining, seconds
}

// NewPlayer creates a live player with default health at the origin.
// An empty id is replaced by a fresh random one.
func NewPlayer(id string) *Player {
	if id == "" {
		id = GenerateID(4)
	}
	return &Player{
		Body: Body{
			ID:     id,
			Type:   KindPlayer,
			Radius: PlayerRadius,
			Alive:  true,
		},
		HP:    PlayerMaxHP,
		MaxHP: PlayerMaxHP,
	}
}

// Update advances per-tick player timers. Reserved for regen/status effects.
func (p *Player) Update(dt float64, _ *MatchState) []Event {
	if p.FireCD > 0 {
		p.FireCD -= dt
	}
	return nil
}

// ApplyInput converts a frame into a MOVEMENT event and, when firing is
// requested and the cooldown has elapsed, a SPAWN_BULLET event.
func (p *Player) ApplyInput(frame InputFrame, _ *MatchState) []Event {
	dir := Vector{}
	if frame.Left {
		dir.X--
	}
	if frame.Right {
		dir.X++
	}
	if frame.Up {
		dir.Y--
	}
	if frame.Down {
		dir.Y++
	}
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}

	dur := Clamp(frame.Duration/1000, 0, maxInputWindow)
	if math.IsNaN(dur) {
		dur = 0
	}
	delta := dir.Mul(PlayerSpeed * dur)
	p.Vel = dir.Mul(PlayerSpeed)

	events := []Event{MovementEvent(p, Movement{
		Angle: NormalizeAngle(frame.Angle),
		XVel:  delta.X,
		YVel:  delta.Y,
	})}

	if frame.Fired && p.FireCD <= 0 {
		p.FireCD = FireCooldown
		events = append(events, SpawnBulletEvent(p))
	}
	return events
}

// Move shifts the player by (dx, dy) and faces it along angle. No validation.
func (p *Player) Move(angle, dx, dy float64) {
	p.Pos.X += dx
	p.Pos.Y += dy
	p.Orientation = angle
}

// CollideWith handles contact initiated by the player
func (p *Player) CollideWith(other Entity, _ *MatchState) {
	switch o := other.(type) {
	case *Projectile:
		if !o.Alive || o.Source == p.ID {
			return
		}
		p.TakeDamage(o.Damage)
		o.Alive = false
	case *Player, *Wall:
		// blocked movement is handled by MOVEMENT rollback
	}
}

// TakeDamage reduces HP and returns true if the player died
func (p *Player) TakeDamage(dmg int) bool {
	if !p.Alive {
		return false
	}
	p.HP -= dmg
	if p.HP <= 0 {
		p.HP = 0
		p.Alive = false
		return true
	}
	return false
}
