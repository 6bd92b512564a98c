package main

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultStartDelay is how long a lobby at or above the minimum waits for
// more players before starting.
const DefaultStartDelay = 5000 * time.Millisecond

var (
	ErrLobbyFull     = errors.New("lobby: already at max players")
	ErrAlreadyQueued = errors.New("lobby: participant already queued")
	ErrLobbyClosed   = errors.New("lobby: closed")
)

// LobbyState is the matchmaker's lifecycle state
type LobbyState string

const (
	LobbyEmpty      LobbyState = "EMPTY"
	LobbyFilling    LobbyState = "FILLING"
	LobbyStarting   LobbyState = "STARTING"
	LobbyDispatched LobbyState = "DISPATCHED"
)

// Participant is anything that can wait in a lobby
type Participant interface {
	ParticipantID() string
}

// DispatchFunc receives the batch of participants when a match starts. It
// runs outside the matchmaker lock.
type DispatchFunc func(code string, batch []Participant)

// Matchmaker pools participants and hands them off as one match, either as
// soon as the pool reaches MaxPlayers or after the start delay once it holds
// at least MinPlayers.
type Matchmaker struct {
	mu         sync.Mutex
	code       string
	settings   MatchSettings
	delay      time.Duration
	pool       []Participant
	state      LobbyState
	timer      *time.Timer
	gen        uint64 // bumped on every timer cancel; a fire with an old gen is ignored
	dispatches int
	onDispatch DispatchFunc
	logger     *log.Logger
	lastActive time.Time
	closed     bool
}

// NewMatchmaker creates an empty lobby identified by code
func NewMatchmaker(code string, settings MatchSettings, delay time.Duration, onDispatch DispatchFunc, logger *log.Logger) *Matchmaker {
	if delay <= 0 {
		delay = DefaultStartDelay
	}
	return &Matchmaker{
		code:       code,
		settings:   settings,
		delay:      delay,
		state:      LobbyEmpty,
		onDispatch: onDispatch,
		logger:     logger,
		lastActive: time.Now(),
	}
}

// Code returns the lobby code
func (m *Matchmaker) Code() string { return m.code }

// Join adds p to the pool. The start timer is reset on every join; a pool
// that reaches MaxPlayers is dispatched immediately.
func (m *Matchmaker) Join(p Participant) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrLobbyClosed
	}
	for _, q := range m.pool {
		if q.ParticipantID() == p.ParticipantID() {
			m.mu.Unlock()
			return ErrAlreadyQueued
		}
	}
	if len(m.pool) >= m.settings.MaxPlayers {
		m.mu.Unlock()
		m.logger.Error("too many players", "code", m.code, "max", m.settings.MaxPlayers, "participant", p.ParticipantID())
		return ErrLobbyFull
	}

	m.pool = append(m.pool, p)
	m.lastActive = time.Now()
	m.cancelTimerLocked()
	m.logger.Debug("participant joined", "code", m.code, "participant", p.ParticipantID(), "waiting", len(m.pool))

	switch {
	case len(m.pool) == m.settings.MaxPlayers:
		batch := m.dispatchLocked()
		m.mu.Unlock()
		m.deliver(batch)
		return nil
	case len(m.pool) >= m.settings.MinPlayers:
		m.armTimerLocked()
		m.state = LobbyStarting
	default:
		m.state = LobbyFilling
	}
	m.mu.Unlock()
	return nil
}

// Leave removes the participant with the given id. Dropping below
// MinPlayers cancels a pending start.
func (m *Matchmaker) Leave(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, q := range m.pool {
		if q.ParticipantID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	m.pool = append(m.pool[:idx], m.pool[idx+1:]...)
	m.lastActive = time.Now()
	if len(m.pool) < m.settings.MinPlayers {
		m.cancelTimerLocked()
		if len(m.pool) == 0 {
			m.state = LobbyEmpty
		} else {
			m.state = LobbyFilling
		}
	}
	m.logger.Debug("participant left", "code", m.code, "participant", id, "waiting", len(m.pool))
	return true
}

// State returns the current lifecycle state
func (m *Matchmaker) State() LobbyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Size returns the number of waiting participants
func (m *Matchmaker) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// Waiting returns a copy of the pool in join order
func (m *Matchmaker) Waiting() []Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Participant(nil), m.pool...)
}

// Dispatches returns how many matches this lobby has started
func (m *Matchmaker) Dispatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatches
}

// Idle reports whether the pool has been empty since before cutoff
func (m *Matchmaker) Idle(cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool) == 0 && m.lastActive.Before(cutoff)
}

// Close cancels any pending start; later joins fail
func (m *Matchmaker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.closed = true
}

func (m *Matchmaker) armTimerLocked() {
	gen := m.gen
	m.timer = time.AfterFunc(m.delay, func() { m.fire(gen) })
}

func (m *Matchmaker) cancelTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Matchmaker) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || len(m.pool) < m.settings.MinPlayers {
		m.mu.Unlock()
		return
	}
	batch := m.dispatchLocked()
	m.mu.Unlock()
	m.deliver(batch)
}

// dispatchLocked empties the pool and returns it
func (m *Matchmaker) dispatchLocked() []Participant {
	m.cancelTimerLocked()
	batch := m.pool
	m.pool = nil
	m.state = LobbyDispatched
	m.dispatches++
	m.lastActive = time.Now()
	return batch
}

// deliver runs the dispatch callback, then resets the lobby to EMPTY unless
// someone joined while it ran.
func (m *Matchmaker) deliver(batch []Participant) {
	m.logger.Info("match dispatched", "code", m.code, "players", len(batch))
	if m.onDispatch != nil {
		m.onDispatch(m.code, batch)
	}
	m.mu.Lock()
	if m.state == LobbyDispatched && len(m.pool) == 0 {
		m.state = LobbyEmpty
	}
	m.mu.Unlock()
}
