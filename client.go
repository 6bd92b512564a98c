package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 120
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	remoteAddr string
	binary     bool // state frames as msgpack
	msgCount   int
	msgResetAt time.Time
	logger     *log.Logger

	mu       sync.Mutex
	lobby    *Lobby
	session  *Session
	playerID string
	closed   bool
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, binary bool) *Client {
	id := GenerateUUID()
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         id,
		remoteAddr: remoteAddr,
		binary:     binary,
		logger:     hub.logger.With("client", id),
	}
}

// ParticipantID identifies the connection while it waits in a lobby
func (c *Client) ParticipantID() string { return c.id }

// WantsBinary reports whether the connection asked for msgpack state frames
func (c *Client) WantsBinary() bool { return c.binary }

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read", "err", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.logger.Warn("rate limit exceeded, disconnecting", "addr", c.remoteAddr)
			break
		}

		if msgType == websocket.BinaryMessage {
			c.handleBinaryInput(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal", "err", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("unmarshal", "err", err)
		return
	}

	switch env.T {
	case MsgInput:
		var frame InputFrame
		if err := json.Unmarshal(env.D, &frame); err != nil {
			return
		}
		c.handleInput(frame)
	case MsgLeave:
		c.handleLeave()
	}
}

// handleBinaryInput decodes a msgpack InputFrame
func (c *Client) handleBinaryInput(msg []byte) {
	var frame InputFrame
	if err := decodeMsgpack(msg, &frame); err != nil {
		c.logger.Debug("decode binary input", "err", err)
		return
	}
	c.handleInput(frame)
}

// handleInput stamps the frame with this connection's player and queues it
func (c *Client) handleInput(frame InputFrame) {
	c.mu.Lock()
	sess, playerID := c.session, c.playerID
	c.mu.Unlock()
	if sess == nil {
		return
	}
	frame.PlayerID = playerID
	if !sess.PushInput(frame) {
		c.logger.Debug("input dropped, buffer full")
	}
}

func (c *Client) handleLeave() {
	lobby, sess, playerID := c.takeAll(false)
	if lobby != nil && lobby.Leave(c.id) {
		c.hub.announce(lobby)
	}
	if sess != nil {
		sess.Leave(playerID)
	}
}

// moveToSession runs join and, on success, records the seat. It fails if
// the connection already closed.
func (c *Client) moveToSession(sess *Session, join func() (*Player, error)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobby = nil
	if c.closed {
		return false
	}
	p, err := join()
	if err != nil {
		c.logger.Warn("join session", "session", sess.ID, "err", err)
		return false
	}
	c.session = sess
	c.playerID = p.ID
	return true
}

func (c *Client) leaveLobby() {
	c.mu.Lock()
	c.lobby = nil
	c.mu.Unlock()
}

// release marks the connection closed and hands back what it was attached to
func (c *Client) release() (*Lobby, *Session, string) {
	return c.takeAll(true)
}

func (c *Client) takeAll(closing bool) (*Lobby, *Session, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closing {
		c.closed = true
	}
	lobby, sess, playerID := c.lobby, c.session, c.playerID
	c.lobby, c.session, c.playerID = nil, nil, ""
	return lobby, sess, playerID
}
