package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultTickRate = 60 // ticks per second
	maxSessions     = 100
)

var (
	ErrSessionFull    = errors.New("session: full")
	ErrSessionClosed  = errors.New("session: closed")
	ErrTooManyMatches = errors.New("session: too many active matches")
)

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
}

// binaryBroadcaster is implemented by connections that negotiated msgpack
type binaryBroadcaster interface {
	SendBinary(data []byte)
	WantsBinary() bool
}

// SessionConfig is what every match of a server shares
type SessionConfig struct {
	World           World
	Settings        MatchSettings
	Catalog         MapCatalog
	TickRate        int
	InputBufferSize int
}

// Session runs one match: it owns the MatchState and advances it on its own
// goroutine. All state access goes through mu.
type Session struct {
	ID   string
	Code string

	mu          sync.Mutex
	state       *MatchState
	clients     map[string]Broadcaster // playerID -> connection
	inputs      *InputBuffer
	tick        uint64
	tickRate    int
	startedWith int
	startedAt   time.Time
	over        bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	analytics *Analytics
	logger    *log.Logger
	onEnd     func(*Session)
}

// NewSession creates a session with an empty world built from cfg
func NewSession(id, code string, cfg SessionConfig, analytics *Analytics, logger *log.Logger) *Session {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.InputBufferSize <= 0 {
		cfg.InputBufferSize = defaultInputBufferSize
	}
	return &Session{
		ID:        id,
		Code:      code,
		state:     NewMatchState(cfg.World, cfg.Settings, cfg.Catalog),
		clients:   make(map[string]Broadcaster),
		inputs:    NewInputBuffer(cfg.InputBufferSize),
		tickRate:  cfg.TickRate,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		analytics: analytics,
		logger:    logger,
	}
}

// Join seats a new player for b and sends it the registration message
func (s *Session) Join(b Broadcaster) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.over {
		return nil, ErrSessionClosed
	}
	if limit := s.state.Settings.MaxPlayers; limit > 0 && len(s.state.Entities.Players) >= limit {
		return nil, ErrSessionFull
	}
	p := s.state.AddPlayer()
	s.clients[p.ID] = b

	snapshot, err := json.Marshal(s.state)
	if err != nil {
		return nil, err
	}
	b.SendJSON(Envelope{T: MsgRegistration, Data: RegistrationMsg{
		PlayerID:   p.ID,
		MatchState: json.RawMessage(snapshot),
	}})
	s.logger.Debug("player joined", "session", s.ID, "player", p.ID, "x", p.Pos.X, "y", p.Pos.Y)
	return p, nil
}

// Leave removes a player. The session ends once nobody is left.
func (s *Session) Leave(playerID string) {
	s.mu.Lock()
	s.state.RemovePlayer(playerID)
	delete(s.clients, playerID)
	empty := len(s.clients) == 0
	s.mu.Unlock()

	s.logger.Debug("player left", "session", s.ID, "player", playerID)
	if empty {
		s.end()
	}
}

// PushInput stages a frame for the next tick. The caller stamps PlayerID.
func (s *Session) PushInput(frame InputFrame) bool {
	return s.inputs.Push(frame)
}

// PlayerCount returns the number of players in the match
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Entities.Players)
}

// Tick returns the number of ticks run so far
func (s *Session) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Start records the starting line-up and launches the tick loop
func (s *Session) Start() {
	s.mu.Lock()
	s.startedWith = len(s.state.Entities.Players)
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("match started", "session", s.ID, "code", s.Code, "players", s.startedWith)
	s.analytics.Track(EvtMatchStart, s.ID, fmt.Sprintf(`{"code":%q,"players":%d}`, s.Code, s.startedWith))
	go s.Run()
}

// Run starts the game loop
func (s *Session) Run() {
	defer close(s.done)
	ticker := time.NewTicker(time.Second / time.Duration(s.tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if over := s.step(); over {
				s.end()
			}
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the game loop
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once Run has returned
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) end() {
	s.Stop()
	if s.onEnd != nil {
		s.onEnd(s)
	}
}

type outgoing struct {
	to   Broadcaster
	json interface{}
	bin  []byte
}

// step runs one tick and broadcasts the result. It reports whether the
// match just ended.
func (s *Session) step() bool {
	s.mu.Lock()
	if s.over {
		s.mu.Unlock()
		return false
	}
	frames := s.inputs.Drain()
	events := s.state.Step(frames, 1/float64(s.tickRate))
	s.tick++

	deaths := s.collectDeaths(events)
	alive := s.state.AlivePlayers()
	var result *MatchRecord
	if s.startedWith >= 2 && len(alive) <= 1 {
		s.over = true
		winner := ""
		if len(alive) == 1 {
			winner = alive[0]
		}
		result = s.recordLocked(winner)
	}

	state := StateMsg{Tick: s.tick, MatchState: s.state, Events: events}
	if state.Events == nil {
		state.Events = []Event{}
	}
	stateJSON, err := json.Marshal(s.state)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("marshal state", "session", s.ID, "err", err)
		return false
	}
	var stateBin []byte
	var out []outgoing
	for _, id := range sortedKeys(s.clients) {
		c := s.clients[id]
		if bc, ok := c.(binaryBroadcaster); ok && bc.WantsBinary() {
			if stateBin == nil {
				if stateBin, err = encodeMsgpack(Envelope{T: MsgState, Data: state}); err != nil {
					s.logger.Error("encode msgpack state", "session", s.ID, "err", err)
				}
			}
			if stateBin != nil {
				out = append(out, outgoing{to: c, bin: stateBin})
				continue
			}
		}
		out = append(out, outgoing{to: c, json: Envelope{T: MsgState, Data: StateMsg{
			Tick:       state.Tick,
			MatchState: json.RawMessage(stateJSON),
			Events:     state.Events,
		}}})
	}
	clients := make([]Broadcaster, 0, len(s.clients))
	for _, id := range sortedKeys(s.clients) {
		clients = append(clients, s.clients[id])
	}
	s.mu.Unlock()

	for _, o := range out {
		if o.bin != nil {
			o.to.(binaryBroadcaster).SendBinary(o.bin)
		} else {
			o.to.SendJSON(o.json)
		}
	}
	for _, d := range deaths {
		for _, c := range clients {
			c.SendJSON(Envelope{T: MsgDeath, Data: d})
		}
		s.analytics.Track(EvtPlayerDeath, s.ID, fmt.Sprintf(`{"player":%q,"killer":%q}`, d.PlayerID, d.KillerID))
	}
	if result == nil {
		return false
	}

	for _, c := range clients {
		c.SendJSON(Envelope{T: MsgGameOver, Data: GameOverMsg{Winner: result.Winner}})
	}
	s.logger.Info("match over", "session", s.ID, "winner", result.Winner, "ticks", result.Ticks)
	s.analytics.Track(EvtMatchEnd, s.ID, fmt.Sprintf(`{"winner":%q}`, result.Winner))
	s.analytics.RecordMatch(*result)
	return true
}

// collectDeaths lists players that died this tick, with the shooter whose
// bullet landed the final hit when there is one.
func (s *Session) collectDeaths(events []Event) []DeathMsg {
	killers := make(map[string]string)
	for _, ev := range events {
		if ev.Type != EventCollision || ev.Receptor == nil {
			continue
		}
		bulletRef, playerRef := ev.Initiator, *ev.Receptor
		if bulletRef.Kind == KindPlayer {
			bulletRef, playerRef = playerRef, bulletRef
		}
		if bulletRef.Kind != KindBullet || playerRef.Kind != KindPlayer {
			continue
		}
		if b, ok := s.state.Entities.Bullets[bulletRef.ID]; ok && !b.Alive {
			killers[playerRef.ID] = b.Source
		}
	}
	var deaths []DeathMsg
	for _, id := range sortedKeys(s.state.Entities.Players) {
		if s.state.Entities.Players[id].Alive {
			continue
		}
		deaths = append(deaths, DeathMsg{PlayerID: id, KillerID: killers[id]})
	}
	return deaths
}

func (s *Session) recordLocked(winner string) *MatchRecord {
	rec := &MatchRecord{
		SessionID: s.ID,
		Code:      s.Code,
		Winner:    winner,
		Players:   s.startedWith,
		Ticks:     s.tick,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
	}
	for _, id := range sortedKeys(s.state.Entities.Players) {
		p := s.state.Entities.Players[id]
		rec.Scores = append(rec.Scores, PlayerScore{PlayerID: id, Kills: p.Kills, Alive: p.Alive})
	}
	return rec
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	cfg       SessionConfig
	analytics *Analytics
	logger    *log.Logger
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(cfg SessionConfig, analytics *Analytics, logger *log.Logger) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		analytics: analytics,
		logger:    logger,
	}
}

// CreateSession creates a session for a dispatched lobby. It is not started.
func (sm *SessionManager) CreateSession(code string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.sessions) >= maxSessions {
		return nil, ErrTooManyMatches
	}
	sess := NewSession(GenerateUUID(), code, sm.cfg, sm.analytics, sm.logger)
	sess.onEnd = func(s *Session) { sm.RemoveSession(s.ID) }
	sm.sessions[sess.ID] = sess
	sm.analytics.SetActiveSessions(len(sm.sessions))
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// RemoveSession stops and forgets a session
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.analytics.SetActiveSessions(len(sm.sessions))
	sm.mu.Unlock()
	if ok {
		sess.Stop()
	}
}

// StopAll stops every session, used on shutdown
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()
	for _, sess := range sessions {
		sess.Stop()
	}
}

// Count returns the number of active sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ListSessions returns info about all active sessions
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Code:    sess.Code,
			Players: sess.PlayerCount(),
			Tick:    sess.Tick(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
