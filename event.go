package main

// EventType tags a gameplay occurrence found during a tick
type EventType string

const (
	EventCollision   EventType = "COLLISION"
	EventSpawnBullet EventType = "SPAWN_BULLET"
	EventMovement    EventType = "MOVEMENT"
)

// Movement is the delta carried by a MOVEMENT event
type Movement struct {
	Angle float64 `json:"angle"`
	XVel  float64 `json:"xVel"`
	YVel  float64 `json:"yVel"`
}

// Event is produced during update/applyInputs and consumed by ResolveEvents
// within the same tick.
type Event struct {
	Type      EventType  `json:"type"`
	Initiator EntityRef  `json:"initiator"`
	Receptor  *EntityRef `json:"receptor,omitempty"`
	Movement  *Movement  `json:"data,omitempty"`
}

// CollisionEvent builds a COLLISION from initiator against receptor
func CollisionEvent(initiator, receptor Entity) Event {
	r := receptor.body().Ref()
	return Event{
		Type:      EventCollision,
		Initiator: initiator.body().Ref(),
		Receptor:  &r,
	}
}

// SpawnBulletEvent builds a SPAWN_BULLET for the given shooter
func SpawnBulletEvent(shooter Entity) Event {
	return Event{Type: EventSpawnBullet, Initiator: shooter.body().Ref()}
}

// MovementEvent builds a MOVEMENT carrying the given delta
func MovementEvent(mover Entity, m Movement) Event {
	return Event{Type: EventMovement, Initiator: mover.body().Ref(), Movement: &m}
}
