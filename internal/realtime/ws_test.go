package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskpulse/taskpulse/internal/models"
)

func newWSServer(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(mockVerifier{"good": {ID: "u1"}}, Options{SendBuffer: 8, PingInterval: time.Second})
	srv := httptest.NewServer(NewWSHandler(h, WSConfig{
		WriteTimeout:     time.Second,
		PingInterval:     time.Second,
		HandshakeTimeout: time.Second,
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocketHandshakeFrame(t *testing.T) {
	h, url := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Handshake{Token: "good"}); err != nil {
		t.Fatalf("send handshake: %v", err)
	}
	if ev := readEvent(t, conn); ev.Kind != models.EventReady {
		t.Fatalf("Expected ready frame, got %s", ev.Kind)
	}

	h.SendNotification(&models.Notification{ID: "n1", User: "u1", Title: "Task Assigned"})
	ev := readEvent(t, conn)
	n, err := ev.Notification()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.ID != "n1" {
		t.Errorf("Expected n1, got %s", n.ID)
	}

	conn.Close()
	waitFor(t, "unregister on disconnect", func() bool { return len(h.ConnectionsFor("u1")) == 0 })
}

func TestWebSocketHeaderAuth(t *testing.T) {
	h, url := newWSServer(t)

	header := http.Header{"Authorization": []string{"Bearer good"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Kind != models.EventReady {
		t.Fatalf("Expected ready frame, got %s", ev.Kind)
	}
	h.BroadcastTaskDelete("t9")
	if ev := readEvent(t, conn); ev.Kind != models.EventTaskDeleted || ev.EntityID != "t9" {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	h, url := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Handshake{Token: "forged"}); err != nil {
		t.Fatalf("send handshake: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != CloseAuthFailed {
		t.Fatalf("Expected close %d, got %v", CloseAuthFailed, err)
	}
	if h.Stats().Connections != 0 {
		t.Error("Rejected socket must not be registered")
	}
}

func TestWebSocketHandshakeTimeout(t *testing.T) {
	_, url := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send nothing; the server gives up after the handshake timeout.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != CloseAuthFailed {
		t.Fatalf("Expected close %d after silence, got %v", CloseAuthFailed, err)
	}
}
