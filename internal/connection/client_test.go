package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/charchat/internal/auth"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return mockWSServerWithRequest(t, func(_ *http.Request, conn *websocket.Conn) {
		handler(conn)
	})
}

// mockWSServerWithRequest also exposes the upgrade request to the handler.
func mockWSServerWithRequest(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(server *httptest.Server, kind Kind) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.Kind = kind
	cfg.BufferSize = 100
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

// drainConn reads until the connection closes.
func drainConn(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitEvent(t *testing.T, c Client, want EventKind) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		if ev.Kind != want {
			t.Fatalf("event kind = %v, want %v", ev.Kind, want)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event %v", want)
	}
	return Event{}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drainConn)
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)

	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}
	if client.State() != StateOpen {
		t.Errorf("State() = %v, want %v", client.State(), StateOpen)
	}
	waitEvent(t, client, EventConnected)

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
	ev := waitEvent(t, client, EventDisconnected)
	if ev.Err != nil {
		t.Errorf("disconnect after Close should have nil cause, got %v", ev.Err)
	}
}

func TestClient_ConnectSendsIdentity(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := mockWSServerWithRequest(t, func(r *http.Request, conn *websocket.Conn) {
		headers <- r.Header.Clone()
		drainConn(conn)
	})
	defer server.Close()

	cfg := testClientConfig(server, KindDM)
	cfg.Credentials = auth.Credentials{Token: "tok", UserID: 7}
	cfg.EdgeRollout = "61"

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	h := <-headers
	if cookie := h.Get("Cookie"); !strings.Contains(cookie, "edge_rollout=61") {
		t.Errorf("Cookie = %q, want edge_rollout=61", cookie)
	}
	if ua := h.Get("User-Agent"); !strings.HasPrefix(ua, "charchat/") {
		t.Errorf("User-Agent = %q, want charchat/ prefix", ua)
	}
}

func TestClient_ConnectDialFailure(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.URL = "ws://127.0.0.1:1"
	cfg.Kind = KindDM

	client := NewClient(cfg, nil)
	err := client.Connect(context.Background(), false)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if connErr.Op != "dial" || connErr.Channel != KindDM {
		t.Errorf("ConnectionError = %+v, want dial on dm", connErr)
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %v, want %v", client.State(), StateClosed)
	}
}

func TestClient_HandshakeAck(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(msg), `"connect"`) {
			t.Errorf("first frame = %s, want connect frame", msg)
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"connect":{"client":"abc","version":"5"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"push":{"pub":{"data":{"command":"hello"}}}}`))
		drainConn(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server, KindGroupChat), nil)
	if err := client.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// The acknowledgment itself is consumed by the client.
	select {
	case msg := <-client.Messages():
		if !strings.Contains(string(msg.Data), "hello") {
			t.Errorf("first message = %s, want the publication", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message after handshake")
	}
}

func TestClient_HandshakeTimeout(t *testing.T) {
	server := mockWSServer(t, drainConn)
	defer server.Close()

	cfg := testClientConfig(server, KindGroupChat)
	cfg.HandshakeTimeout = 100 * time.Millisecond

	client := NewClient(cfg, nil)
	err := client.Connect(context.Background(), true)

	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if client.IsConnected() {
		t.Error("client should not be connected after failed handshake")
	}

	// No lifecycle events for a channel that never opened.
	select {
	case ev := <-client.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"command":"test"}`)
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"command": "test", "data": 1}`,
		`{"command": "test", "data": 2}`,
		`{"command": "test", "data": 3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		drainConn(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []string
	timeout := time.After(time.Second)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-client.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_HeartbeatEcho(t *testing.T) {
	replies := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		replies <- string(msg)
		drainConn(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server, KindGroupChat), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case reply := <-replies:
		if reply != "{}" {
			t.Errorf("heartbeat reply = %q, want {}", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for heartbeat reply")
	}

	select {
	case msg := <-client.Messages():
		t.Errorf("heartbeat should not be delivered, got %s", msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ServerCloseEmitsDisconnected(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	waitEvent(t, client, EventConnected)
	ev := waitEvent(t, client, EventDisconnected)
	if ev.Err == nil {
		t.Error("abnormal closure should carry a cause")
	}
	if client.IsConnected() {
		t.Error("client should not be connected after loss")
	}

	// Explicit Close afterwards must not emit a second event.
	client.Close()
	select {
	case ev := <-client.Events():
		t.Errorf("unexpected second event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ForceDisconnect(t *testing.T) {
	server := mockWSServer(t, drainConn)
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitEvent(t, client, EventConnected)
	if err := client.ForceDisconnect(); err != nil {
		t.Errorf("ForceDisconnect failed: %v", err)
	}

	ev := waitEvent(t, client, EventDisconnected)
	if !errors.Is(ev.Err, ErrForcedDisconnect) {
		t.Errorf("cause = %v, want ErrForcedDisconnect", ev.Err)
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.URL = "ws://localhost:12345"

	client := NewClient(cfg, nil)

	err := client.Send([]byte("test"))
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, drainConn)
	defer server.Close()

	client := NewClient(testClientConfig(server, KindDM), nil)
	if err := client.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := client.Connect(context.Background(), false); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}
