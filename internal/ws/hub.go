// Package ws streams engine events to WebSocket clients.
//
// Every frame is a JSON Message. The first frame after the upgrade is a
// "hello" carrying the current snapshot (queue and provider state); after
// that each engine event is forwarded with a sequence number, so a client
// that sees a gap knows it missed events and can refetch /api/v1/status.
// Clients may narrow the stream with ?events=provider.,translation.failed
// (prefixes, comma separated).
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventHello is the first frame sent to a new client.
const EventHello = "hello"

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Seq       uint64    `json:"seq"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter []string
	closed bool
	reason string // close frame text, set when the hub drops the client
}

func (c *client) wants(event string) bool {
	if len(c.filter) == 0 {
		return true
	}
	for _, p := range c.filter {
		if strings.HasPrefix(event, p) {
			return true
		}
	}
	return false
}

// Hub fans engine events out to connected clients.
type Hub struct {
	snapshot func() any

	mu      sync.Mutex
	clients map[*client]struct{}
	seq     uint64
	done    bool
}

// NewHub creates a Hub. snapshot, when non-nil, supplies the data of the
// hello frame.
func NewHub(snapshot func() any) *Hub {
	return &Hub{snapshot: snapshot, clients: make(map[*client]struct{})}
}

// Run disconnects every client once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	for c := range h.clients {
		h.dropLocked(c, "server shutting down")
	}
}

// Send forwards an engine event to every interested client. It never blocks:
// a client whose buffer is full is disconnected rather than silently missing
// events.
func (h *Hub) Send(event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	h.seq++
	b, err := json.Marshal(Message{Seq: h.seq, Event: event, Data: payload, Timestamp: time.Now()})
	if err != nil {
		log.Printf("ws: marshal %s: %v", event, err)
		return
	}
	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- b:
		default:
			log.Printf("ws: client lagging behind %s, disconnecting", event)
			h.dropLocked(c, "too slow, reconnect")
		}
	}
}

// dropLocked removes c and lets its write loop send the close frame.
// Caller holds h.mu.
func (h *Hub) dropLocked(c *client, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	delete(h.clients, c)
	close(c.send)
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws.ServeWS: upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), filter: parseFilter(r.URL.Query().Get("events"))}
	// Taken outside h.mu: the snapshot locks engine state that emits events.
	snap := h.hello()

	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		conn.Close()
		return
	}
	// The hello frame is queued under the lock so it precedes any event.
	if hello, err := json.Marshal(Message{Seq: h.seq, Event: EventHello, Data: snap, Timestamp: time.Now()}); err == nil {
		c.send <- hello
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) hello() any {
	if h.snapshot == nil {
		return nil
	}
	return h.snapshot()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				h.mu.Lock()
				reason := c.reason
				h.mu.Unlock()
				code := websocket.CloseNormalClosure
				if reason != "" {
					code = websocket.CloseTryAgainLater
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only services control frames; clients never send data.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c, "")
		h.mu.Unlock()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func parseFilter(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
