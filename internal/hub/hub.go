// Package hub implements the notification hub: a persistent full-duplex
// WebSocket channel to operator UIs. On connect it sends the current
// snapshot of every session, then forwards each request_update as it's
// published by the broker. Inbound point-1/point-2 action messages are
// dispatched back into the broker.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/playingpack/playingpack/internal/broker"
)

// upgrader allows any origin: the hub is served on the same port as the
// proxy it reports on, and is meant for local operator tooling.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub serves the /ws endpoint, bridging WebSocket connections to a Broker.
type Hub struct {
	broker *broker.Broker
}

// New returns a Hub reporting on b's sessions.
func New(b *broker.Broker) *Hub {
	return &Hub{broker: b}
}

// Handler returns the http.Handler for the hub's WebSocket endpoint.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.serveWS)
}

// outboundEvent is the hub's outbound message schema.
type outboundEvent struct {
	Type    string         `json:"type"`
	Session broker.Session `json:"session"`
}

// inboundMessage is the hub's inbound message schema: either a
// point1_action or a point2_action, keyed on Type. Action is decoded
// loosely here and re-parsed against the specific shape once Type is
// known, since Point1Action and Point2Action have different Kind enums.
type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Action    json.RawMessage `json:"action"`
}

type clientConn struct {
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{} // closed once, to wake writePump on disconnect
	once   sync.Once
	mu     sync.Mutex
}

func (c *clientConn) writeJSON(v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		slog.Error("hub: encoding outbound message failed", "error", err)
		return
	}
	select {
	case c.send <- encoded:
	default:
		// Slow client (or already disconnected); drop rather than block
		// the broker's publish path.
	}
}

// stop wakes writePump even if no further message arrives. Safe to call
// more than once (serveWS once readPump returns, and the forwardUpdates
// exit path, both may).
func (c *clientConn) stop() {
	c.once.Do(func() { close(c.closed) })
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("hub: websocket upgrade failed", "error", err)
		return
	}

	client := &clientConn{conn: conn, send: make(chan []byte, 64), closed: make(chan struct{})}

	subID, updates := h.broker.Subscribe()
	defer h.broker.Unsubscribe(subID)

	for _, sess := range h.broker.List() {
		client.writeJSON(outboundEvent{Type: "request_update", Session: sess})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(client)
	}()
	go h.forwardUpdates(client, updates)

	h.readPump(client)
	client.stop()
	<-done
}

// forwardUpdates relays broker publications to client.send until updates
// closes (Unsubscribe), then wakes writePump in case readPump hasn't yet.
func (h *Hub) forwardUpdates(client *clientConn, updates <-chan broker.Session) {
	for sess := range updates {
		client.writeJSON(outboundEvent{Type: "request_update", Session: sess})
	}
	client.stop()
}

// writePump sends messages from client.send to the WebSocket connection
// until the connection errors or client.stop is called (on disconnect).
// The closed channel is the wake signal; no central goroutine exists to
// close client.send itself.
func (h *Hub) writePump(client *clientConn) {
	defer client.conn.Close()
	for {
		select {
		case msg := <-client.send:
			client.mu.Lock()
			err := client.conn.WriteMessage(websocket.TextMessage, msg)
			client.mu.Unlock()
			if err != nil {
				return
			}
		case <-client.closed:
			return
		}
	}
}

// readPump reads inbound messages until the connection errors or closes,
// dispatching point1_action/point2_action and answering ping with pong.
// Unknown message types are ignored rather than rejected.
func (h *Hub) readPump(client *clientConn) {
	defer client.conn.Close()
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(client, raw)
	}
}

func (h *Hub) dispatch(client *clientConn, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "ping":
		client.writeJSON(map[string]string{"type": "pong"})
	case "point1_action":
		var action broker.Point1Action
		if err := json.Unmarshal(msg.Action, &action); err != nil || !action.Valid() {
			return
		}
		h.broker.ResolvePoint1(msg.RequestID, action)
	case "point2_action":
		var action broker.Point2Action
		if err := json.Unmarshal(msg.Action, &action); err != nil || !action.Valid() {
			return
		}
		h.broker.ResolvePoint2(msg.RequestID, action)
	default:
		// Unknown type; ignored.
	}
}
