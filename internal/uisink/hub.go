package uisink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/ledlink/internal/ble"
	"github.com/chaz8081/ledlink/internal/dispatch"
)

const (
	writeWait   = 100 * time.Millisecond
	intentWait  = 5 * time.Second
	clientQueue = 32
)

// Event is a message sent to websocket clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// inbound is a message received from a websocket client, e.g.
// {"type":"led","value":1} or {"type":"reload"}.
type inbound struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// IntentHandler applies an intent received from a client.
type IntentHandler func(ctx context.Context, in dispatch.Intent) error

// snapshot keys replayed to new clients, in replay order.
var snapshotKeys = []string{"state", "led", "brightness", "mode"}

type client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub broadcasts state to websocket clients and turns their messages into
// intents. It implements dispatch.Sink; broadcasting never blocks, and a
// client whose queue is full is dropped.
type Hub struct {
	handler  IntentHandler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]bool
	snapshot map[string]Event
	closed   bool
}

// NewHub creates a Hub. handler may be nil for a read-only hub.
func NewHub(handler IntentHandler) *Hub {
	return &Hub{
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*client]bool),
		snapshot: make(map[string]Event),
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[UI] websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, clientQueue)}
	if !h.add(c) {
		conn.Close()
		return
	}
	slog.Debug("[UI] client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	h.readLoop(c)
}

// add registers c and queues the current snapshot for it.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for _, k := range snapshotKeys {
		if ev, ok := h.snapshot[k]; ok {
			c.send <- ev
		}
	}
	h.clients[c] = true
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			slog.Debug("[UI] client write failed", "error", err)
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("[UI] client read ended", "error", err)
			}
			return
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *client, msg inbound) {
	in, err := dispatch.NewIntent(msg.Type, msg.Value)
	if err != nil {
		h.sendTo(c, Event{Type: "error", Payload: err.Error()})
		return
	}
	if h.handler == nil {
		h.sendTo(c, Event{Type: "error", Payload: "read-only"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), intentWait)
	defer cancel()
	if err := h.handler(ctx, in); err != nil {
		msg := err.Error()
		if errors.Is(err, ble.ErrNotReady) {
			msg = "not connected"
		}
		h.sendTo(c, Event{Type: "error", Payload: msg})
	}
}

func (h *Hub) sendTo(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- ev:
	default:
		delete(h.clients, c)
		c.close()
	}
}

// Broadcast queues ev for every client. Events named in the snapshot are
// remembered for clients that connect later.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, k := range snapshotKeys {
		if k == ev.Type {
			h.snapshot[k] = ev
		}
	}
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slog.Warn("[UI] dropping slow client", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) SetLED(on bool) {
	h.Broadcast(Event{Type: "led", Payload: on})
}

func (h *Hub) SetBrightness(level int) {
	h.Broadcast(Event{Type: "brightness", Payload: level})
}

func (h *Hub) SetMode(mode int) {
	h.Broadcast(Event{Type: "mode", Payload: mode})
}

func (h *Hub) ConnectionChanged(state ble.State) {
	h.Broadcast(Event{Type: "state", Payload: state.String()})
}

func (h *Hub) Notify(message string) {
	h.Broadcast(Event{Type: "toast", Payload: message})
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// Serve runs an HTTP server exposing the hub at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("[UI] websocket hub listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

var _ dispatch.Sink = (*Hub)(nil)
