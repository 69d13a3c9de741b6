package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JJ-Intelligence/duel-lobby/pkg/comms"
	"github.com/JJ-Intelligence/duel-lobby/pkg/config"
	"github.com/JJ-Intelligence/duel-lobby/pkg/ratelimit"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	server *Server
	url    string
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func startServer(t *testing.T, cfg config.Config, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	// Connection goroutines may outlive the test, so they must not log to t.
	s, err := NewServer(zap.NewNop(), cfg, limiter)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		server: s,
		url:    "ws://" + ln.Addr().String() + "/ws",
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { ts.done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() { ts.stop(t) })
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	ts.once.Do(func() {
		ts.cancel()
		if err := <-ts.done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ts *testServer) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	hello := c.expect("connected")
	c.id = hello["clientId"].(string)
	if c.id == "" {
		t.Fatal("empty client id")
	}
	return c
}

func (c *client) send(messageType string, contents map[string]interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(comms.Message{Type: messageType, Contents: contents}); err != nil {
		c.t.Fatalf("write %s: %v", messageType, err)
	}
}

// expect reads frames until one of messageType arrives and returns its
// contents as an object, or nil when the contents are not an object.
func (c *client) expect(messageType string) map[string]interface{} {
	c.t.Helper()
	message := c.expectMessage(messageType)
	contents, _ := message.Contents.(map[string]interface{})
	return contents
}

func (c *client) expectMessage(messageType string) comms.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var message comms.Message
		if err := c.conn.ReadJSON(&message); err != nil {
			c.t.Fatalf("waiting for %s: %v", messageType, err)
		}
		if message.Type == messageType {
			return message
		}
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Port = "0"
	return cfg
}

func TestLobbyOverWebsocket(t *testing.T) {
	ts := startServer(t, testConfig(), nil)

	alice := dial(t, ts)
	alice.send("join_lobby", map[string]interface{}{"username": "alice", "client_id": alice.id})
	rooms := alice.expectMessage("list_rooms")
	if list, ok := rooms.Contents.([]interface{}); !ok || len(list) != 5 {
		t.Fatalf("expected 5 rooms, got %+v", rooms.Contents)
	}

	bob := dial(t, ts)
	bob.send("join_lobby", map[string]interface{}{"username": "bob", "client_id": bob.id})
	delta := alice.expect("list_players")
	if delta["add"] != true || delta["username"] != "bob" {
		t.Fatalf("unexpected delta: %+v", delta)
	}

	alice.send("message", map[string]interface{}{"username": "alice", "text": "hi"})
	for _, c := range []*client{alice, bob} {
		m := c.expect("message")
		if m["username"] != "alice" || m["text"] != "hi" {
			t.Fatalf("unexpected chat message: %+v", m)
		}
	}

	alice.send("join_room", map[string]interface{}{"username": "alice", "room": 1})
	alice.expect("join_room")
	bob.send("join_room", map[string]interface{}{"username": "bob", "room": 1})
	echo := alice.expect("join_room")
	if echo["username"] != "bob" || echo["room"] != "1" {
		t.Fatalf("unexpected echo: %+v", echo)
	}

	alice.send("gameMove", map[string]interface{}{"opponentId": bob.id, "x": 3})
	move := bob.expect("gameMove")
	if move["x"] != float64(3) || move["opponentId"] != bob.id {
		t.Fatalf("unexpected move: %+v", move)
	}

	alice.send("endGame", map[string]interface{}{"roomId": 1, "winner": "alice", "opponentId": bob.id})
	for _, c := range []*client{alice, bob} {
		end := c.expect("endGame")
		if end["winner"] != "alice" {
			t.Fatalf("unexpected endGame: %+v", end)
		}
	}

	rooms = alice.expectMessage("list_rooms")
	first := rooms.Contents.([]interface{})[0].(map[string]interface{})
	if first["status"] != "empty" || len(first["players"].([]interface{})) != 0 {
		t.Fatalf("room 1 not reset: %+v", first)
	}
}

func TestMalformedFrameGetsError(t *testing.T) {
	ts := startServer(t, testConfig(), nil)
	c := dial(t, ts)
	c.send("join_lobby", map[string]interface{}{"username": "alice"})
	c.expect("list_rooms")

	for _, frame := range []string{"{not json", `{"type":`, "", `{"type": 5}`} {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write %q: %v", frame, err)
		}
		c.expect(comms.ErrorType)
	}

	c.send("join_room", map[string]interface{}{"room": 1})
	reason := c.expect(comms.ErrorType)
	if !strings.Contains(reason["reason"].(string), "username") {
		t.Fatalf("unexpected error: %+v", reason)
	}

	// The connection survives every malformed frame and alice keeps her place.
	c.send("list_players", nil)
	players := c.expectMessage("players").Contents.([]interface{})
	if len(players) != 1 || players[0] != "alice" {
		t.Fatalf("players = %+v", players)
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	ts := startServer(t, testConfig(), nil)
	alice := dial(t, ts)
	watcher := dial(t, ts)

	alice.send("join_room", map[string]interface{}{"username": "alice", "room": 3})
	alice.expect("join_room")
	alice.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		rooms := watcher.expectMessage("list_rooms").Contents.([]interface{})
		third := rooms[2].(map[string]interface{})
		if third["status"] == "empty" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room 3 never emptied: %+v", third)
		}
	}
}

func TestShutdownDisconnectsClients(t *testing.T) {
	ts := startServer(t, testConfig(), nil)
	c := dial(t, ts)

	ts.stop(t)

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	if n := ts.server.store.Len(); n != 0 {
		t.Fatalf("expected no connections after shutdown, got %d", n)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		allowed, origin string
		want            bool
	}{
		{"", "http://anything.test", true},
		{"http://localhost:3000", "http://localhost:3000", true},
		{"http://localhost:3000", "https://localhost:3000", false},
		{"http://localhost:3000", "http://localhost:3000.evil.test", false},
		{"game.test", "https://game.test", true},
		{"game.test", "https://game.test.evil.test", false},
		{"game.test", "", false},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.FrontendHost = tt.allowed
		s, err := NewServer(zaptest.NewLogger(t), cfg, nil)
		if err != nil {
			t.Fatalf("new server: %v", err)
		}
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Fatalf("checkOrigin(allowed=%q, origin=%q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}

func TestRejectedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.FrontendHost = "http://allowed.test"
	ts := startServer(t, cfg, nil)

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.url, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestHealthAndRateLimit(t *testing.T) {
	s, err := NewServer(zaptest.NewLogger(t), testConfig(), ratelimit.NewMemoryLimiter(2, time.Hour))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Fatalf("health %d: %d %q", i, resp.StatusCode, body)
		}
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestNewServerRejectsBadRoomConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.Mode = "sometimes"
	if _, err := NewServer(zaptest.NewLogger(t), cfg, nil); err == nil {
		t.Fatal("expected error")
	}
}
