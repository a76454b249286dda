package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Helper function to create a test WebSocket server
func createTestWSServer(handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func echo(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketRoundTripText(t *testing.T) {
	server := createTestWSServer(echo)
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		reply, err := client.RoundTrip(ctx, Text("hello"))
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
		if reply.Type != websocket.TextMessage || string(reply.Data) != "hello" {
			t.Fatalf("unexpected reply %d %q", reply.Type, reply.Data)
		}
	}

	m := client.Metrics()
	if m.MessagesSent != 3 || m.MessagesReceived != 3 {
		t.Errorf("messages sent/received = %d/%d, want 3/3", m.MessagesSent, m.MessagesReceived)
	}
	if m.BytesSent != 15 || m.BytesReceived != 15 {
		t.Errorf("bytes sent/received = %d/%d, want 15/15", m.BytesSent, m.BytesReceived)
	}
	if m.ConnectionDuration <= 0 {
		t.Errorf("expected positive connection duration")
	}
}

func TestWebSocketBinaryMessages(t *testing.T) {
	server := createTestWSServer(echo)
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	payload := []byte{0x00, 0x01, 0xff}
	reply, err := client.RoundTrip(ctx, Message{Type: websocket.BinaryMessage, Data: payload})
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	if reply.Type != websocket.BinaryMessage || string(reply.Data) != string(payload) {
		t.Fatalf("unexpected reply %d %v", reply.Type, reply.Data)
	}
}

func TestWebSocketConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status in error, got %v", err)
	}
	if client.Metrics().Errors != 1 {
		t.Errorf("expected one counted error")
	}
}

func TestWebSocketWithoutConnect(t *testing.T) {
	client := NewClient(Config{URL: "ws://localhost:1"})
	if err := client.Send(context.Background(), Text("x")); err == nil {
		t.Error("Send without connect should fail")
	}
	if _, err := client.Receive(context.Background()); err == nil {
		t.Error("Receive without connect should fail")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close without connect = %v, want nil", err)
	}
}

func TestWebSocketMultipleConnectError(t *testing.T) {
	server := createTestWSServer(echo)
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("second Connect should fail")
	}
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	server := createTestWSServer(echo)
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}
	if err := client.Send(context.Background(), Text("x")); err == nil {
		t.Fatal("Send after Close should fail")
	}
}

func TestWebSocketReadTimeout(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		// Read but never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server), ReadTimeout: 30 * time.Millisecond})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	start := time.Now()
	if _, err := client.RoundTrip(context.Background(), Text("ping")); err == nil {
		t.Fatal("expected read timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("read timeout not applied")
	}
}

func TestWebSocketContextDeadline(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Receive(ctx); err == nil {
		t.Fatal("expected error once the context deadline passes")
	}
}

func TestWebSocketCustomHeaders(t *testing.T) {
	got := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Api-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		echo(conn)
	}))
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server), Headers: http.Header{"X-Api-Key": []string{"secret"}}})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if v := <-got; v != "secret" {
		t.Fatalf("header = %q, want secret", v)
	}
}

func TestWebSocketMessageSizeLimit(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64)))
		echo(conn)
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server), MaxMessageSize: 16})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if _, err := client.Receive(context.Background()); err == nil {
		t.Fatal("expected read limit error")
	}
}
