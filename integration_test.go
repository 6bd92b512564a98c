package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func testHubConfig() HubConfig {
	return HubConfig{
		Session: SessionConfig{
			World:    World{Width: 960, Height: 720},
			Settings: MatchSettings{MinPlayers: 2, MaxPlayers: 2},
			TickRate: 60,
		},
		Lobby: LobbyConfig{
			StartDelay: 100 * time.Millisecond,
			TicketTTL:  time.Minute,
		},
		TicketSecret: "test-secret",
	}
}

// startTestServer spins up an httptest.Server with a Hub and returns
// the server, its WebSocket URL and the hub. Everything is torn down
// when the test ends.
func startTestServer(t *testing.T, cfg HubConfig, store *Store) (*httptest.Server, string, *Hub) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)

	analytics := NewAnalytics(store, testLogger())
	hub := NewHub(cfg, store, analytics, testLogger())
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, store, tmpDir))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		analytics.Stop()
	})
	return srv, wsURL, hub
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of type want arrives, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, want string) InEnvelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS waiting for %q: %v", want, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.T == want {
			return env
		}
	}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

func decodeData(t *testing.T, env InEnvelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.D, v); err != nil {
		t.Fatalf("decode %s: %v", env.T, err)
	}
}

type wireState struct {
	Tick       uint64 `json:"tick"`
	MatchState struct {
		Entities struct {
			Players map[string]Player `json:"players"`
		} `json:"entities"`
	} `json:"matchState"`
}

func postJSON(t *testing.T, u string, v interface{}) int {
	t.Helper()
	resp, err := http.Post(u, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, u string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

// ---------- matchmaking over WebSocket ----------

func TestWSLobbyAnnouncesWaiting(t *testing.T) {
	_, wsURL, _ := startTestServer(t, testHubConfig(), nil)

	conn := dialWS(t, wsURL)
	env := readUntil(t, conn, MsgLobby)
	var lm LobbyMsg
	decodeData(t, env, &lm)
	if !lobbyCodeRegex.MatchString(lm.GameCode) {
		t.Errorf("bad lobby code %q", lm.GameCode)
	}
	if lm.Waiting != 1 || lm.State != LobbyFilling {
		t.Errorf("expected 1 waiting FILLING, got %+v", lm)
	}
}

func TestWSMatchAtMaxPlayers(t *testing.T) {
	_, wsURL, hub := startTestServer(t, testHubConfig(), nil)

	c1 := dialWS(t, wsURL)
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)

	var reg1, reg2 RegistrationMsg
	decodeData(t, readUntil(t, c1, MsgRegistration), &reg1)
	decodeData(t, readUntil(t, c2, MsgRegistration), &reg2)
	if reg1.PlayerID == "" || reg1.PlayerID == reg2.PlayerID {
		t.Fatalf("expected two distinct players, got %q and %q", reg1.PlayerID, reg2.PlayerID)
	}

	var st wireState
	decodeData(t, readUntil(t, c1, MsgState), &st)
	if len(st.MatchState.Entities.Players) != 2 {
		t.Errorf("expected 2 players in state, got %d", len(st.MatchState.Entities.Players))
	}
	if p := st.MatchState.Entities.Players[reg1.PlayerID]; p.Pos != (Vector{X: 880, Y: 80}) {
		t.Errorf("first player should sit at (880,80), got %+v", p.Pos)
	}
	if hub.sessions.Count() != 1 {
		t.Errorf("expected 1 session, got %d", hub.sessions.Count())
	}
}

func TestWSMatchAfterStartDelay(t *testing.T) {
	cfg := testHubConfig()
	cfg.Session.Settings.MaxPlayers = 4
	_, wsURL, _ := startTestServer(t, cfg, nil)

	c1 := dialWS(t, wsURL)
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)

	var lm LobbyMsg
	decodeData(t, readUntil(t, c2, MsgLobby), &lm)
	if lm.Waiting != 2 || lm.State != LobbyStarting {
		t.Errorf("expected 2 waiting STARTING, got %+v", lm)
	}

	readUntil(t, c1, MsgRegistration)
	readUntil(t, c2, MsgRegistration)
}

func TestWSInputMovesPlayer(t *testing.T) {
	_, wsURL, _ := startTestServer(t, testHubConfig(), nil)

	c1 := dialWS(t, wsURL)
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)
	var reg RegistrationMsg
	decodeData(t, readUntil(t, c1, MsgRegistration), &reg)
	readUntil(t, c2, MsgRegistration)

	sendMsg(t, c1, MsgInput, InputFrame{PlayerID: "spoofed", Down: true, Duration: 100})

	for i := 0; i < 200; i++ {
		var st wireState
		decodeData(t, readUntil(t, c1, MsgState), &st)
		if p, ok := st.MatchState.Entities.Players[reg.PlayerID]; ok && p.Pos.Y == 100 {
			return
		}
	}
	t.Error("input never moved the player to y=100")
}

func TestWSDisconnectEndsMatch(t *testing.T) {
	store := openTestStore(t)
	srv, wsURL, _ := startTestServer(t, testHubConfig(), store)

	c1 := dialWS(t, wsURL)
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)
	var reg RegistrationMsg
	decodeData(t, readUntil(t, c1, MsgRegistration), &reg)
	readUntil(t, c2, MsgRegistration)

	c2.Close()

	var over GameOverMsg
	decodeData(t, readUntil(t, c1, MsgGameOver), &over)
	if over.Winner != reg.PlayerID {
		t.Errorf("expected %s to win, got %q", reg.PlayerID, over.Winner)
	}

	// The result reaches the database through the analytics writer
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var matches []MatchRecord
		if getJSON(t, srv.URL+"/api/matches", &matches) == http.StatusOK && len(matches) == 1 {
			if matches[0].Winner != reg.PlayerID || matches[0].Players != 2 {
				t.Errorf("unexpected match record %+v", matches[0])
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("match result was never recorded")
}

func TestWSLeaveLobby(t *testing.T) {
	cfg := testHubConfig()
	cfg.Session.Settings.MaxPlayers = 4
	cfg.Lobby.StartDelay = time.Hour
	_, wsURL, hub := startTestServer(t, cfg, nil)

	c1 := dialWS(t, wsURL)
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)
	readUntil(t, c2, MsgLobby)

	var lm LobbyMsg
	decodeData(t, readUntil(t, c1, MsgLobby), &lm)
	if lm.Waiting != 2 {
		t.Fatalf("expected 2 waiting, got %+v", lm)
	}

	sendMsg(t, c2, MsgLeave, nil)

	decodeData(t, readUntil(t, c1, MsgLobby), &lm)
	if lm.Waiting != 1 || lm.State != LobbyFilling {
		t.Errorf("expected 1 waiting FILLING after leave, got %+v", lm)
	}
	if hub.lobbies.Public().Size() != 1 {
		t.Errorf("expected 1 waiting, got %d", hub.lobbies.Public().Size())
	}
}

func TestWSMsgpackState(t *testing.T) {
	_, wsURL, _ := startTestServer(t, testHubConfig(), nil)

	c1 := dialWS(t, wsURL+"?enc=msgpack")
	readUntil(t, c1, MsgLobby)
	c2 := dialWS(t, wsURL)
	readUntil(t, c1, MsgRegistration)
	readUntil(t, c2, MsgRegistration)

	deadline := time.Now().Add(3 * time.Second)
	for {
		c1.SetReadDeadline(deadline)
		msgType, raw, err := c1.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var env struct {
			T string `json:"t"`
			D struct {
				Tick uint64 `json:"tick"`
			} `json:"d"`
		}
		if err := decodeMsgpack(raw, &env); err != nil {
			t.Fatalf("decode msgpack: %v", err)
		}
		if env.T != MsgState || env.D.Tick == 0 {
			t.Errorf("unexpected binary frame %+v", env)
		}
		return
	}
}

// ---------- lobby HTTP API ----------

func TestPrivateLobbyFlow(t *testing.T) {
	srv, wsURL, _ := startTestServer(t, testHubConfig(), nil)

	var lt LobbyTicketMsg
	if code := postJSON(t, srv.URL+"/api/lobby/private", &lt); code != http.StatusOK {
		t.Fatalf("create private: status %d", code)
	}
	if !lobbyCodeRegex.MatchString(lt.GameCode) || lt.Ticket == "" {
		t.Fatalf("unexpected response %+v", lt)
	}

	var info LobbyInfo
	if code := getJSON(t, srv.URL+"/api/lobby/"+lt.GameCode, &info); code != http.StatusOK {
		t.Fatalf("get lobby: status %d", code)
	}
	if info.Kind != LobbyPrivate || info.Waiting != 0 || info.State != LobbyEmpty {
		t.Errorf("unexpected info %+v", info)
	}

	q := url.Values{"code": {lt.GameCode}, "ticket": {lt.Ticket}}
	conn := dialWS(t, wsURL+"?"+q.Encode())
	var lm LobbyMsg
	decodeData(t, readUntil(t, conn, MsgLobby), &lm)
	if lm.GameCode != lt.GameCode {
		t.Errorf("joined %s, expected %s", lm.GameCode, lt.GameCode)
	}

	var lobbies []LobbyInfo
	getJSON(t, srv.URL+"/api/lobbies", &lobbies)
	if len(lobbies) != 1 || lobbies[0].Waiting != 1 {
		t.Errorf("unexpected lobby list %+v", lobbies)
	}
}

func TestJoinRandomLobbyAPI(t *testing.T) {
	srv, _, hub := startTestServer(t, testHubConfig(), nil)

	var a, b LobbyTicketMsg
	postJSON(t, srv.URL+"/api/lobby/join", &a)
	postJSON(t, srv.URL+"/api/lobby/join", &b)
	if a.GameCode == "" || a.GameCode != b.GameCode {
		t.Errorf("random joins should share the public lobby, got %q and %q", a.GameCode, b.GameCode)
	}
	if a.GameCode != hub.lobbies.Public().Code() {
		t.Error("ticket should name the public lobby")
	}
	if err := hub.tickets.Verify(a.Ticket, a.GameCode); err != nil {
		t.Errorf("issued ticket should verify: %v", err)
	}
}

func TestLobbyNotFound(t *testing.T) {
	srv, wsURL, _ := startTestServer(t, testHubConfig(), nil)

	if code := getJSON(t, srv.URL+"/api/lobby/zzzzz", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if code := postJSON(t, srv.URL+"/api/lobby/join?code=zzzzz", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?code=zzzzz", nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown lobby")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake response, got %v", resp)
	}
}

func TestRequireTicket(t *testing.T) {
	cfg := testHubConfig()
	cfg.RequireTicket = true
	srv, wsURL, _ := startTestServer(t, cfg, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without ticket to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}

	var lt LobbyTicketMsg
	postJSON(t, srv.URL+"/api/lobby/join", &lt)
	conn := dialWS(t, wsURL+"?ticket="+url.QueryEscape(lt.Ticket))
	readUntil(t, conn, MsgLobby)
}

func TestLobbyQRCode(t *testing.T) {
	srv, _, _ := startTestServer(t, testHubConfig(), nil)

	var lt LobbyTicketMsg
	postJSON(t, srv.URL+"/api/lobby/private", &lt)

	resp, err := http.Get(srv.URL + "/api/lobby/" + lt.GameCode + "/qr.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestMatchesEndpoint(t *testing.T) {
	srv, _, _ := startTestServer(t, testHubConfig(), nil)
	if code := getJSON(t, srv.URL+"/api/matches", nil); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a database, got %d", code)
	}

	store := openTestStore(t)
	srv2, _, _ := startTestServer(t, testHubConfig(), store)
	var matches []MatchRecord
	if code := getJSON(t, srv2.URL+"/api/matches", &matches); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if matches == nil || len(matches) != 0 {
		t.Errorf("expected an empty list, got %v", matches)
	}
	if code := getJSON(t, srv2.URL+"/api/matches?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, wsURL, _ := startTestServer(t, testHubConfig(), nil)
	dialWS(t, wsURL)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var stats map[string]int
		getJSON(t, srv.URL+"/api/stats", &stats)
		if stats["peers"] == 1 && stats["clients"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("stats never reported the connected client")
}

func TestStaticFiles(t *testing.T) {
	srv, _, _ := startTestServer(t, testHubConfig(), nil)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	cfg := testHubConfig()
	cfg.MaxConnsPerIP = 1
	cfg.Session.Settings.MaxPlayers = 4
	_, wsURL, _ := startTestServer(t, cfg, nil)

	c := dialWS(t, wsURL)
	readUntil(t, c, MsgLobby)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second connection from the same IP should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}
