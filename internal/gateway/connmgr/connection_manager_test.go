package connmgr

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// dialPair spins up a one-shot websocket echo-less server and returns
// the server-side *websocket.Conn (for registering with the Manager)
// and the client-side *websocket.Conn (for reading what the Manager
// broadcasts).
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()
	var upgrader websocket.Upgrader
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- c
	}))

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	serverConn := <-serverConnCh
	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}
	return serverConn, clientConn, cleanup
}

func TestBroadcastOnlyReachesMatchingSession(t *testing.T) {
	m := New(Logger.New(true), time.Hour)
	defer m.Close()

	sidA := uuid.New()
	sidB := uuid.New()

	serverConnA, clientConnA, cleanupA := dialPair(t)
	defer cleanupA()
	serverConnB, clientConnB, cleanupB := dialPair(t)
	defer cleanupB()

	connA := &Connection{ID: uuid.New(), SessionID: sidA, Kind: KindConversation, Topics: map[string]struct{}{"conversation": {}}, Conn: serverConnA}
	connB := &Connection{ID: uuid.New(), SessionID: sidB, Kind: KindConversation, Topics: map[string]struct{}{"conversation": {}}, Conn: serverConnB}
	m.Register(connA)
	m.Register(connB)

	m.Broadcast(sidA, KindConversation, "", map[string]string{"type": "hello"})

	_ = clientConnA.SetReadDeadline(time.Now().Add(time.Second))
	var got map[string]string
	if err := clientConnA.ReadJSON(&got); err != nil {
		t.Fatalf("expected session A to receive the broadcast: %v", err)
	}
	if got["type"] != "hello" {
		t.Fatalf("unexpected payload: %v", got)
	}

	_ = clientConnB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if err := clientConnB.ReadJSON(&got); err == nil {
		t.Fatal("session B must not receive a broadcast scoped to session A")
	}
}

func TestBroadcastFiltersByKindAndTopic(t *testing.T) {
	m := New(Logger.New(true), time.Hour)
	defer m.Close()

	sid := uuid.New()
	serverConn, clientConn, cleanup := dialPair(t)
	defer cleanup()

	conn := &Connection{ID: uuid.New(), SessionID: sid, Kind: KindDashboard, Topics: map[string]struct{}{"events": {}}, Conn: serverConn}
	m.Register(conn)

	// Wrong kind: never delivered.
	m.Broadcast(sid, KindMedia, "", map[string]string{"type": "nope"})
	// Wrong topic: never delivered.
	m.Broadcast(sid, KindDashboard, "transcript", map[string]string{"type": "nope"})
	// Matching kind + topic: delivered.
	m.Broadcast(sid, KindDashboard, "events", map[string]string{"type": "yes"})

	_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
	var got map[string]string
	if err := clientConn.ReadJSON(&got); err != nil {
		t.Fatalf("expected matching broadcast to arrive: %v", err)
	}
	if got["type"] != "yes" {
		t.Fatalf("expected only the matching broadcast to arrive, got %v", got)
	}
}

func TestUnregisterRemovesFromIndexes(t *testing.T) {
	m := New(Logger.New(true), time.Hour)
	defer m.Close()

	sid := uuid.New()
	serverConn, _, cleanup := dialPair(t)
	defer cleanup()

	conn := &Connection{ID: uuid.New(), SessionID: sid, Kind: KindConversation, Conn: serverConn}
	m.Register(conn)
	if m.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", m.Count())
	}

	m.Unregister(conn.ID)
	if m.Count() != 0 {
		t.Fatalf("expected 0 connections after unregister, got %d", m.Count())
	}
	if len(m.SessionConnections(sid)) != 0 {
		t.Fatal("expected no session connections after unregister")
	}
}
