package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize          = 256
	maxHistoryLimit = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorMsg{Msg: msg})
}

// inviteURL is the link a QR code points at for the given lobby
func inviteURL(r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: "/", RawQuery: url.Values{"code": {code}}.Encode()}
	return u.String()
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, store *Store, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			fs.ServeHTTP(w, r)
		}))
	}

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		q := r.URL.Query()
		var lobby *Lobby
		if code := q.Get("code"); code != "" {
			l, err := hub.lobbies.Get(code)
			if err != nil {
				http.Error(w, "lobby not found", lobbyErrStatus(err))
				return
			}
			lobby = l
		} else {
			lobby = hub.lobbies.Public()
		}
		if ticket := q.Get("ticket"); ticket != "" || hub.requireTicket {
			if err := hub.tickets.Verify(ticket, lobby.Code()); err != nil {
				http.Error(w, "invalid ticket", lobbyErrStatus(err))
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("upgrade", "err", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip, q.Get("enc") == "msgpack")
		hub.register <- client

		// Queue before reading so a disconnect always finds the lobby to leave
		if err := hub.Enqueue(client, lobby); err != nil {
			client.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		}

		go client.WritePump()
		go client.ReadPump()
	})

	issue := func(w http.ResponseWriter, r *http.Request, lobby *Lobby) {
		ticket, err := hub.tickets.Issue(lobby.Code())
		if err != nil {
			hub.logger.Error("issue ticket", "err", err)
			writeError(w, http.StatusInternalServerError, "could not issue ticket")
			return
		}
		writeJSON(w, http.StatusOK, LobbyTicketMsg{GameCode: lobby.Code(), Ticket: ticket})
	}

	mux.HandleFunc("POST /api/lobby/join", func(w http.ResponseWriter, r *http.Request) {
		if !hub.tickets.Allow(extractIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		if code := r.URL.Query().Get("code"); code != "" {
			lobby, err := hub.lobbies.Get(code)
			if err != nil {
				writeError(w, lobbyErrStatus(err), err.Error())
				return
			}
			issue(w, r, lobby)
			return
		}
		issue(w, r, hub.lobbies.Public())
	})

	mux.HandleFunc("POST /api/lobby/private", func(w http.ResponseWriter, r *http.Request) {
		if !hub.tickets.Allow(extractIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		issue(w, r, hub.lobbies.CreatePrivate())
	})

	mux.HandleFunc("GET /api/lobby/{code}", func(w http.ResponseWriter, r *http.Request) {
		lobby, err := hub.lobbies.Get(r.PathValue("code"))
		if err != nil {
			writeError(w, lobbyErrStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, lobby.Info())
	})

	mux.HandleFunc("GET /api/lobby/{code}/qr.png", func(w http.ResponseWriter, r *http.Request) {
		lobby, err := hub.lobbies.Get(r.PathValue("code"))
		if err != nil {
			writeError(w, lobbyErrStatus(err), err.Error())
			return
		}
		png, err := qrcode.Encode(inviteURL(r, lobby.Code()), qrcode.Medium, qrSize)
		if err != nil {
			hub.logger.Error("qr encode", "code", lobby.Code(), "err", err)
			writeError(w, http.StatusInternalServerError, "could not render invite")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	})

	mux.HandleFunc("GET /api/lobbies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.lobbies.List())
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.sessions.ListSessions())
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		peers, sessions := hub.analytics.GetLiveMetrics()
		writeJSON(w, http.StatusOK, map[string]int{
			"peers":    peers,
			"sessions": sessions,
			"clients":  hub.ClientCount(),
		})
	})

	mux.HandleFunc("GET /api/matches", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "no database configured")
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		matches, err := store.RecentMatches(r.Context(), limit)
		if err != nil {
			hub.logger.Error("recent matches", "err", err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if matches == nil {
			matches = []MatchRecord{}
		}
		writeJSON(w, http.StatusOK, matches)
	})

	return mux
}

// lobbyErrStatus maps lobby errors to HTTP status codes
func lobbyErrStatus(err error) int {
	switch {
	case errors.Is(err, ErrLobbyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLobbyFull), errors.Is(err, ErrAlreadyQueued):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTicket):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
