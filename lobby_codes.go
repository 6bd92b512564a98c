package main

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultLobbyTTL      = 10 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

var ErrLobbyNotFound = errors.New("lobby: not found")

// LobbyKind tells the shared random lobby apart from invite-only ones
type LobbyKind string

const (
	LobbyPublic  LobbyKind = "public"
	LobbyPrivate LobbyKind = "private"
)

// Lobby is a matchmaker registered under a code
type Lobby struct {
	*Matchmaker
	Kind      LobbyKind
	CreatedAt time.Time
}

// Info describes the lobby for status responses
func (l *Lobby) Info() LobbyInfo {
	return LobbyInfo{
		GameCode:   l.Code(),
		Kind:       l.Kind,
		Waiting:    l.Size(),
		State:      l.State(),
		Dispatches: l.Dispatches(),
	}
}

// LobbyDirectory issues lobby codes and maps them to matchmakers. Codes are
// independent of any lobby's start timer.
type LobbyDirectory struct {
	mu       sync.RWMutex
	lobbies  map[string]*Lobby
	public   string
	settings MatchSettings
	delay    time.Duration
	ttl      time.Duration
	dispatch DispatchFunc
	logger   *log.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewLobbyDirectory creates an empty directory. Every lobby it creates
// hands dispatched batches to dispatch.
func NewLobbyDirectory(settings MatchSettings, delay, ttl time.Duration, dispatch DispatchFunc, logger *log.Logger) *LobbyDirectory {
	if ttl <= 0 {
		ttl = defaultLobbyTTL
	}
	return &LobbyDirectory{
		lobbies:  make(map[string]*Lobby),
		settings: settings,
		delay:    delay,
		ttl:      ttl,
		dispatch: dispatch,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Public returns the shared random lobby, creating it on first use
func (d *LobbyDirectory) Public() *Lobby {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lobbies[d.public]; ok {
		return l
	}
	l := d.createLocked(LobbyPublic)
	d.public = l.Code()
	return l
}

// CreatePrivate opens a new invite-only lobby under a fresh code
func (d *LobbyDirectory) CreatePrivate() *Lobby {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createLocked(LobbyPrivate)
}

func (d *LobbyDirectory) createLocked(kind LobbyKind) *Lobby {
	code := d.uniqueCodeLocked()
	l := &Lobby{
		Matchmaker: NewMatchmaker(code, d.settings, d.delay, d.dispatch, d.logger),
		Kind:       kind,
		CreatedAt:  time.Now(),
	}
	d.lobbies[code] = l
	d.logger.Info("lobby created", "code", code, "kind", kind)
	return l
}

func (d *LobbyDirectory) uniqueCodeLocked() string {
	for {
		code := GenerateCode(lobbyCodeLen)
		if _, exists := d.lobbies[code]; !exists {
			return code
		}
	}
}

// Get looks up a lobby by code
func (d *LobbyDirectory) Get(code string) (*Lobby, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lobbies[code]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return l, nil
}

// Remove closes and forgets a lobby
func (d *LobbyDirectory) Remove(code string) bool {
	d.mu.Lock()
	l, ok := d.lobbies[code]
	delete(d.lobbies, code)
	if code == d.public {
		d.public = ""
	}
	d.mu.Unlock()
	if ok {
		l.Close()
	}
	return ok
}

// List returns every lobby ordered by code
func (d *LobbyDirectory) List() []LobbyInfo {
	d.mu.RLock()
	lobbies := make([]*Lobby, 0, len(d.lobbies))
	for _, l := range d.lobbies {
		lobbies = append(lobbies, l)
	}
	d.mu.RUnlock()

	infos := make([]LobbyInfo, 0, len(lobbies))
	for _, l := range lobbies {
		infos = append(infos, l.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].GameCode < infos[j].GameCode })
	return infos
}

// Sweep removes private lobbies that have been empty for longer than the
// TTL. It returns the number removed.
func (d *LobbyDirectory) Sweep(now time.Time) int {
	cutoff := now.Add(-d.ttl)
	d.mu.Lock()
	var stale []*Lobby
	for code, l := range d.lobbies {
		if l.Kind == LobbyPrivate && l.Idle(cutoff) {
			stale = append(stale, l)
			delete(d.lobbies, code)
		}
	}
	d.mu.Unlock()

	for _, l := range stale {
		l.Close()
		d.logger.Debug("lobby expired", "code", l.Code())
	}
	return len(stale)
}

// Start runs the periodic sweep until Stop
func (d *LobbyDirectory) Start(interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := d.Sweep(now); n > 0 {
					d.logger.Info("swept idle lobbies", "removed", n)
				}
			case <-d.done:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and closes every lobby
func (d *LobbyDirectory) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.mu.Lock()
	lobbies := d.lobbies
	d.lobbies = make(map[string]*Lobby)
	d.public = ""
	d.mu.Unlock()
	for _, l := range lobbies {
		l.Close()
	}
}
