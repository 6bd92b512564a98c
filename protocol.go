package main

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Client -> Server message types
const (
	MsgInput = "input"
	MsgLeave = "leave"
)

// Server -> Client message types
const (
	MsgRegistration = "registration"
	MsgState        = "state"
	MsgDeath        = "death"
	MsgGameOver     = "gameover"
	MsgLobby        = "lobby"
	MsgError        = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// RegistrationMsg tells a player who they are and what the world looks like
type RegistrationMsg struct {
	PlayerID   string      `json:"playerId"`
	MatchState interface{} `json:"matchState"`
}

// StateMsg is broadcast every tick
type StateMsg struct {
	Tick       uint64      `json:"tick"`
	MatchState interface{} `json:"matchState"`
	Events     []Event     `json:"events"`
}

// DeathMsg notifies a session that a player died
type DeathMsg struct {
	PlayerID string `json:"playerId"`
	KillerID string `json:"killerId,omitempty"`
}

// GameOverMsg ends a match; Winner is empty on a draw
type GameOverMsg struct {
	Winner string `json:"winner"`
}

// LobbyMsg reports matchmaking progress to waiting connections
type LobbyMsg struct {
	GameCode string     `json:"gameCode"`
	Waiting  int        `json:"waiting"`
	State    LobbyState `json:"state"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// LobbyTicketMsg is the HTTP response handing out a lobby code and its ticket
type LobbyTicketMsg struct {
	GameCode string `json:"gameCode"`
	Ticket   string `json:"ticket"`
}

// LobbyInfo describes one lobby for the status endpoint
type LobbyInfo struct {
	GameCode   string     `json:"gameCode"`
	Kind       LobbyKind  `json:"kind"`
	Waiting    int        `json:"waiting"`
	State      LobbyState `json:"state"`
	Dispatches int        `json:"dispatches"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Code    string `json:"gameCode"`
	Players int    `json:"players"`
	Tick    uint64 `json:"tick"`
}

// encodeMsgpack marshals v with msgpack using the json field names so both
// encodings share one schema.
func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeMsgpack is the inverse of encodeMsgpack
func decodeMsgpack(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
