package main

import (
	"maps"
	"slices"
	"strconv"
)

const seatMargin = 80.0

// World is the playable rectangle, origin at the top-left corner
type World struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// MatchSettings bounds the number of participants in one match
type MatchSettings struct {
	MinPlayers int `json:"minPlayers" yaml:"min_players"`
	MaxPlayers int `json:"maxPlayers" yaml:"max_players"`
}

// Entities holds one mapping per entity kind. Ids are unique per mapping only.
type Entities struct {
	Players map[string]*Player     `json:"players"`
	Bullets map[string]*Projectile `json:"bullets"`
	Walls   map[string]*Wall       `json:"walls"`
}

// InputFrame is one client-observed tick of input for a player
type InputFrame struct {
	PlayerID  string  `json:"playerId"`
	Left      bool    `json:"left"`
	Right     bool    `json:"right"`
	Up        bool    `json:"up"`
	Down      bool    `json:"down"`
	Angle     float64 `json:"angle"`
	Fired     bool    `json:"fired"`
	Duration  float64 `json:"duration"`  // milliseconds covered by this frame
	Timestamp int64   `json:"timestamp"` // client clock, ms; not used for ordering
}

// MatchState is the authoritative world of one match. It is owned by a
// single Session; entity handlers may mutate it only during the call they
// receive it in.
type MatchState struct {
	World    World         `json:"world"`
	Settings MatchSettings `json:"settings"`
	Entities Entities      `json:"entities"`

	nextBulletID uint64
	walls        *WallIndex
}

// NewMatchState creates an empty match with walls built from the catalog
func NewMatchState(world World, settings MatchSettings, catalog MapCatalog) *MatchState {
	s := &MatchState{
		World:    world,
		Settings: settings,
		Entities: Entities{
			Players: make(map[string]*Player),
			Bullets: make(map[string]*Projectile),
			Walls:   make(map[string]*Wall, len(catalog.Walls)),
		},
	}
	for _, d := range catalog.Walls {
		w := NewWall(d)
		s.Entities.Walls[w.ID] = w
	}
	s.walls = NewWallIndex(world, s.Entities.Walls)
	return s
}

// Step runs one tick: prune, update, apply inputs, resolve. It returns every
// event the tick produced, in resolution order.
func (s *MatchState) Step(inputs []InputFrame, dt float64) []Event {
	s.Prune()
	events := s.Update(dt)
	events = append(events, s.ApplyInputs(inputs)...)
	s.ResolveEvents(events)
	return events
}

// Prune removes dead entities from every mapping
func (s *MatchState) Prune() {
	for id, p := range s.Entities.Players {
		if !p.Alive {
			delete(s.Entities.Players, id)
		}
	}
	for id, b := range s.Entities.Bullets {
		if !b.Alive {
			delete(s.Entities.Bullets, id)
		}
	}
	for id, w := range s.Entities.Walls {
		if !w.Alive {
			delete(s.Entities.Walls, id)
		}
	}
}

// Update runs every live player's and projectile's per-tick handler. Each
// handler only mutates its own entity, so the result does not depend on
// iteration order; ids are still visited in sorted order.
func (s *MatchState) Update(dt float64) []Event {
	var events []Event
	for _, id := range sortedKeys(s.Entities.Players) {
		if p := s.Entities.Players[id]; p.Alive {
			events = append(events, p.Update(dt, s)...)
		}
	}
	for _, id := range sortedKeys(s.Entities.Bullets) {
		if b := s.Entities.Bullets[id]; b.Alive {
			events = append(events, b.Update(dt, s)...)
		}
	}
	return events
}

// ApplyInputs hands each frame, in arrival order, to its player. Frames for
// unknown players are dropped.
func (s *MatchState) ApplyInputs(inputs []InputFrame) []Event {
	var events []Event
	for _, in := range inputs {
		p, ok := s.Entities.Players[in.PlayerID]
		if !ok || !p.Alive {
			continue
		}
		events = append(events, p.ApplyInput(in, s)...)
	}
	return events
}

// ResolveEvents applies events in order. Events whose initiator is gone or
// dead are skipped.
func (s *MatchState) ResolveEvents(events []Event) {
	for _, ev := range events {
		sender := s.Lookup(ev.Initiator)
		if sender == nil || !sender.body().Alive {
			continue
		}
		switch ev.Type {
		case EventCollision:
			if ev.Receptor == nil {
				continue
			}
			if receiver := s.Lookup(*ev.Receptor); receiver != nil {
				s.resolveCollision(sender, receiver)
			}
		case EventSpawnBullet:
			if p, ok := sender.(*Player); ok {
				b := SpawnProjectile(s.mintBulletID(), p)
				s.Entities.Bullets[b.ID] = b
			}
		case EventMovement:
			if p, ok := sender.(*Player); ok && ev.Movement != nil {
				s.resolveMovement(p, *ev.Movement)
			}
		}
	}
}

// resolveCollision dispatches to the initiator's handler and credits the
// bullet's shooter when the contact kills a player.
func (s *MatchState) resolveCollision(sender, receiver Entity) {
	var victim *Player
	var bullet *Projectile
	switch e := sender.(type) {
	case *Player:
		victim = e
		bullet, _ = receiver.(*Projectile)
	case *Projectile:
		bullet = e
		victim, _ = receiver.(*Player)
	case *Wall:
		return
	}
	wasAlive := victim != nil && victim.Alive

	switch e := sender.(type) {
	case *Player:
		e.CollideWith(receiver, s)
	case *Projectile:
		e.CollideWith(receiver, s)
	}

	if bullet == nil || !wasAlive || victim.Alive {
		return
	}
	if shooter, ok := s.Entities.Players[bullet.Source]; ok && shooter != victim {
		shooter.Kills++
	}
}

// resolveMovement applies the delta, then restores the exact previous
// position on the first wall overlap, else on the first player overlap.
// Walls are checked first.
func (s *MatchState) resolveMovement(p *Player, m Movement) {
	prev := p.Pos
	p.Move(m.Angle, m.XVel, m.YVel)
	for _, w := range s.wallsNear(p.Pos, p.Radius) {
		if Colliding(p, w) {
			p.Pos = prev
			return
		}
	}
	for _, id := range sortedKeys(s.Entities.Players) {
		other := s.Entities.Players[id]
		if other == p || !other.Alive {
			continue
		}
		if Colliding(p, other) {
			p.Pos = prev
			return
		}
	}
}

func (s *MatchState) wallsNear(pos Vector, radius float64) []*Wall {
	if s.walls != nil {
		return s.walls.Near(pos, radius)
	}
	walls := make([]*Wall, 0, len(s.Entities.Walls))
	for _, id := range sortedKeys(s.Entities.Walls) {
		walls = append(walls, s.Entities.Walls[id])
	}
	return walls
}

// Lookup resolves an entity reference, or returns nil
func (s *MatchState) Lookup(ref EntityRef) Entity {
	switch ref.Kind {
	case KindPlayer:
		if p, ok := s.Entities.Players[ref.ID]; ok {
			return p
		}
	case KindBullet:
		if b, ok := s.Entities.Bullets[ref.ID]; ok {
			return b
		}
	case KindWall:
		if w, ok := s.Entities.Walls[ref.ID]; ok {
			return w
		}
	}
	return nil
}

func (s *MatchState) mintBulletID() string {
	for {
		s.nextBulletID++
		id := "b" + strconv.FormatUint(s.nextBulletID, 10)
		if _, taken := s.Entities.Bullets[id]; !taken {
			return id
		}
	}
}

// AddPlayer seats a new player. Seats alternate right/left columns and fill
// the top row before the bottom one.
func (s *MatchState) AddPlayer() *Player {
	p := NewPlayer("")
	for s.Entities.Players[p.ID] != nil {
		p.ID = GenerateID(4)
	}
	count := len(s.Entities.Players)
	if (count+1)%2 == 0 {
		p.Pos.X = seatMargin
	} else {
		p.Pos.X = s.World.Width - seatMargin
	}
	if count > 1 {
		p.Pos.Y = s.World.Height - seatMargin
	} else {
		p.Pos.Y = seatMargin
	}
	s.Entities.Players[p.ID] = p
	return p
}

// RemovePlayer deletes a player; it reports whether the player was present
func (s *MatchState) RemovePlayer(id string) bool {
	if _, ok := s.Entities.Players[id]; !ok {
		return false
	}
	delete(s.Entities.Players, id)
	return true
}

// AlivePlayers returns the ids of players still alive, sorted
func (s *MatchState) AlivePlayers() []string {
	var ids []string
	for _, id := range sortedKeys(s.Entities.Players) {
		if s.Entities.Players[id].Alive {
			ids = append(ids, id)
		}
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
