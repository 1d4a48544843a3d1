package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playingpack/playingpack/internal/broker"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) outboundEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var ev outboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event: %v, raw=%s", err, raw)
	}
	return ev
}

func TestHub_SendsInitialSnapshot(t *testing.T) {
	b := broker.New()
	t.Cleanup(b.Close)
	b.Create("s1", broker.RequestSnapshot{Model: "gpt-4"}, "fp1", false, false)

	h := New(b)
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	ev := readEvent(t, conn)
	if ev.Type != "request_update" || ev.Session.ID != "s1" {
		t.Errorf("got event %+v, want initial snapshot for s1", ev)
	}
}

func TestHub_ForwardsLiveUpdates(t *testing.T) {
	b := broker.New()
	t.Cleanup(b.Close)

	h := New(b)
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	time.Sleep(20 * time.Millisecond) // let the subscription register

	b.Create("s2", broker.RequestSnapshot{Model: "gpt-4"}, "fp2", false, false)

	ev := readEvent(t, conn)
	if ev.Session.ID != "s2" {
		t.Errorf("got session %q, want s2", ev.Session.ID)
	}
}

func TestHub_DispatchesPoint1Action(t *testing.T) {
	b := broker.New()
	t.Cleanup(b.Close)
	b.Create("s3", broker.RequestSnapshot{}, "fp3", false, true)

	h := New(b)
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	readEvent(t, conn) // initial snapshot

	result := make(chan broker.Point1Action, 1)
	go func() { result <- b.AwaitPoint1("s3") }()
	time.Sleep(20 * time.Millisecond)

	msg := map[string]any{
		"type":      "point1_action",
		"requestId": "s3",
		"action":    map[string]any{"kind": "cache"},
	}
	encoded, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case action := <-result:
		if action.Kind != broker.Point1Cache {
			t.Errorf("action.Kind = %v, want cache", action.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitPoint1 did not unblock after hub dispatch")
	}
}

func TestHub_IgnoresUnknownMessageType(t *testing.T) {
	b := broker.New()
	t.Cleanup(b.Close)

	h := New(b)
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)

	msg := map[string]any{"type": "something_else"}
	encoded, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The ping/pong path still works after an unknown message.
	pingMsg := map[string]any{"type": "ping"}
	encoded, _ = json.Marshal(pingMsg)
	conn.WriteMessage(websocket.TextMessage, encoded)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var reply map[string]string
	json.Unmarshal(raw, &reply)
	if reply["type"] != "pong" {
		t.Errorf("got %q, want pong", reply["type"])
	}
}
