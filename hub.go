package main

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them from lobbies to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	sessions      *SessionManager
	lobbies       *LobbyDirectory
	tickets       *TicketIssuer
	analytics     *Analytics
	requireTicket bool
	logger        *log.Logger

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	maxPerIP   int
	maxTotal   int
}

// HubConfig holds the pieces a hub wires together
type HubConfig struct {
	Session       SessionConfig
	Lobby         LobbyConfig
	TicketSecret  string
	RequireTicket bool
	MaxConnsPerIP int
	MaxTotalConns int
}

// NewHub creates a new Hub with its lobby directory and session manager
func NewHub(cfg HubConfig, store *Store, analytics *Analytics, logger *log.Logger) *Hub {
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = maxConnsPerIP
	}
	if cfg.MaxTotalConns <= 0 {
		cfg.MaxTotalConns = maxTotalConns
	}
	h := &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 64),
		unregister:    make(chan *Client, 64),
		done:          make(chan struct{}),
		sessions:      NewSessionManager(cfg.Session, analytics, logger.WithPrefix("session")),
		tickets:       NewTicketIssuer(cfg.TicketSecret, cfg.Lobby.TicketTTL, store, logger),
		analytics:     analytics,
		requireTicket: cfg.RequireTicket,
		logger:        logger.WithPrefix("hub"),
		ipConns:       make(map[string]int),
		maxPerIP:      cfg.MaxConnsPerIP,
		maxTotal:      cfg.MaxTotalConns,
	}
	h.lobbies = NewLobbyDirectory(cfg.Session.Settings, cfg.Lobby.StartDelay, cfg.Lobby.TTL, h.dispatch, logger.WithPrefix("lobby"))
	h.lobbies.Start(cfg.Lobby.SweepInterval)
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotal {
		return false
	}
	if h.ipConns[ip] >= h.maxPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
	h.analytics.SetConcurrentPeers(h.totalConns)
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
	h.analytics.SetConcurrentPeers(h.totalConns)
}

// Run processes register/unregister events until Shutdown
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.detach(client)

		case <-h.done:
			return
		}
	}
}

// Shutdown stops lobbies, sessions and the register loop
func (h *Hub) Shutdown() {
	close(h.done)
	h.lobbies.Stop()
	h.sessions.StopAll()
}

// Enqueue puts a connection into a lobby and tells everyone waiting there
func (h *Hub) Enqueue(c *Client, lobby *Lobby) error {
	c.mu.Lock()
	c.lobby = lobby
	c.mu.Unlock()

	if err := lobby.Join(c); err != nil {
		c.mu.Lock()
		c.lobby = nil
		c.mu.Unlock()
		return err
	}
	h.announce(lobby)
	return nil
}

// announce sends the lobby status to every waiting connection
func (h *Hub) announce(lobby *Lobby) {
	waiting := lobby.Waiting()
	msg := Envelope{T: MsgLobby, Data: LobbyMsg{
		GameCode: lobby.Code(),
		Waiting:  len(waiting),
		State:    lobby.State(),
	}}
	for _, p := range waiting {
		if b, ok := p.(Broadcaster); ok {
			b.SendJSON(msg)
		}
	}
}

// dispatch is the lobby callback: it starts one session for the batch
func (h *Hub) dispatch(code string, batch []Participant) {
	h.analytics.Track(EvtLobbyDispatch, "", fmt.Sprintf(`{"code":%q,"players":%d}`, code, len(batch)))
	sess, err := h.sessions.CreateSession(code)
	if err != nil {
		h.logger.Error("create session", "code", code, "err", err)
		for _, p := range batch {
			if c, ok := p.(*Client); ok {
				c.leaveLobby()
				c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
			}
		}
		return
	}

	for _, p := range batch {
		c, ok := p.(*Client)
		if !ok {
			continue
		}
		if !c.moveToSession(sess, func() (*Player, error) { return sess.Join(c) }) {
			h.logger.Warn("dropped participant at dispatch", "code", code, "client", c.id)
		}
	}
	if sess.PlayerCount() == 0 {
		h.sessions.RemoveSession(sess.ID)
		return
	}
	sess.Start()
}

// detach removes a closed connection from whatever it was waiting in or playing
func (h *Hub) detach(c *Client) {
	lobby, sess, playerID := c.release()
	if lobby != nil && lobby.Leave(c.id) {
		h.announce(lobby)
	}
	if sess != nil {
		sess.Leave(playerID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
