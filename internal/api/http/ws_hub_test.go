package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"torrentd/internal/domain"
)

// startTestHub creates a hub and runs it in a background goroutine. Tests
// that register fake (nil-conn) clients must unregister them before the hub
// stops, since Close writes a close frame to each client's conn.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(slog.Default())
	go hub.run()
	return hub
}

func unregisterAll(hub *wsHub, clients ...*wsClient) {
	for _, c := range clients {
		hub.unregister <- c
	}
	time.Sleep(20 * time.Millisecond)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
	}
	return msg
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	client := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.clientCount())
	}

	hub.unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.clientCount())
	}
}

func TestWSHubUnregisterUnknownClient(t *testing.T) {
	hub := startTestHub(t)

	unknown := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.unregister <- unknown
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.clientCount())
	}
}

func TestWSHubBroadcastToClients(t *testing.T) {
	hub := startTestHub(t)

	c1 := &wsClient{hub: hub, send: make(chan []byte, 256)}
	c2 := &wsClient{hub: hub, send: make(chan []byte, 256)}

	hub.register <- c1
	hub.register <- c2
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast("status", domain.StatusSnapshot{InfoHash: "abc", Name: "Sintel"})
	time.Sleep(20 * time.Millisecond)

	for i, c := range []*wsClient{c1, c2} {
		select {
		case got := <-c.send:
			var m wsMessage
			if err := json.Unmarshal(got, &m); err != nil {
				t.Fatalf("client %d: unmarshal: %v", i, err)
			}
			if m.Type != "status" {
				t.Fatalf("client %d: type = %q, want status", i, m.Type)
			}
		default:
			t.Fatalf("client %d: no message received", i)
		}
	}
	unregisterAll(hub, c1, c2)
}

func TestWSHubBroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)

	slow := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	time.Sleep(20 * time.Millisecond)

	// The first fills the buffer, the second forces the drop.
	for i := 0; i < 2; i++ {
		msg, _ := json.Marshal(wsMessage{Type: "status", Data: i})
		hub.broadcast <- msg
	}
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("slow client should be dropped, got %d clients", hub.clientCount())
	}
}

func TestWSHubBroadcastNoClients(t *testing.T) {
	hub := newWSHub(slog.Default())
	// No run goroutine: Broadcast must return immediately when nobody listens.
	hub.Broadcast("status", domain.StatusSnapshot{InfoHash: "abc"})
}

func TestWSEndToEndBroadcast(t *testing.T) {
	server := NewServer(&fakeManager{})
	defer server.Close()

	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	// Give the hub time to register the client before broadcasting.
	time.Sleep(50 * time.Millisecond)

	server.TorrentCompleted("abc")

	msg := readWSMessage(t, conn, 2*time.Second)
	if msg.Type != "completed" {
		t.Fatalf("type = %q, want completed", msg.Type)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", msg.Data)
	}
	if data["infoHash"] != "abc" {
		t.Fatalf("infoHash = %v", data["infoHash"])
	}
}

func TestWSNotifierTypes(t *testing.T) {
	server := NewServer(&fakeManager{})
	defer server.Close()

	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	server.TorrentAdded(domain.StatusSnapshot{InfoHash: "aaa"})
	server.AggregateUpdated(domain.AggregateSnapshot{DownloadRate: 100})
	server.TorrentError("aaa", "tracker unreachable")

	wantTypes := []string{"torrent_added", "aggregate", "torrent_error"}
	for _, want := range wantTypes {
		msg := readWSMessage(t, conn, 2*time.Second)
		if msg.Type != want {
			t.Fatalf("type = %q, want %q", msg.Type, want)
		}
	}
}
