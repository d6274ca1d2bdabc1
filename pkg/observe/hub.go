package observe

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/flowkit/fctl/internal/infrastructure/logger"
)

// Hub is a gorilla/websocket client registry broadcasting observe.Events
// to every connected client, optionally scoped to one run_id. The
// register/unregister/broadcast channel loop follows the teacher's
// (missing-from-the-retrieval-pack but referenced by
// websocket_observer_test.go) WebSocketHub shape: one goroutine performs
// every add, remove and broadcast; mu guards the client map and count so
// ClientCount can read them from other goroutines.
type Hub struct {
	logger *logger.Logger

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan Event

	mu    sync.RWMutex
	count int
}

type client struct {
	conn   *websocket.Conn
	send   chan Event
	runID  string // empty means "all runs"
	id     string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWebSocketHub builds a Hub and starts its dispatch loop.
func NewWebSocketHub(log *logger.Logger) *Hub {
	h := &Hub{
		logger:     log,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.count++
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.count--
				close(c.send)
			}
			h.mu.Unlock()
		case e := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.runID != "" && c.runID != e.RunID {
					continue
				}
				select {
				case c.send <- e:
				default:
					h.logger.Warn("websocket client dropped event, send buffer full", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish broadcasts e to every client subscribed to its run (or to all
// runs). Log.Adapter's subscribers and Hub are independent consumers of
// the same events — wire a Log.Subscribe feed into Hub.Publish to bridge
// them (see NewStreamBridge).
func (h *Hub) Publish(e Event) {
	h.broadcast <- e
}

// NewStreamBridge subscribes to runID on log and republishes every event
// to hub until cancelled. Returns the cancel func.
func NewStreamBridge(log *Log, hub *Hub, runID string) func() {
	ch, cancel := log.Subscribe(runID)
	go func() {
		for e := range ch {
			hub.Publish(e)
		}
	}()
	return cancel
}

// Handler upgrades HTTP connections to the observation stream.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWebSocketHandler builds an http.Handler serving the long-lived
// streaming side of spec.md §4.11 ("consumers ... open a long-lived
// streaming connection").
func NewWebSocketHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	runID := r.URL.Query().Get("run_id")
	c := &client{
		conn:  conn,
		send:  make(chan Event, 32),
		runID: runID,
		id:    uuid.New().String(),
	}
	h.hub.register <- c

	welcome := map[string]any{
		"type":      "control",
		"message":   "connected to observation stream",
		"client_id": c.id,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if runID != "" {
		welcome["run_id"] = runID
	}
	if err := conn.WriteJSON(welcome); err != nil {
		h.hub.unregister <- c
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Handler) writePump(c *client) {
	defer c.conn.Close()
	for e := range c.send {
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}
}

// readPump drains and discards client messages; this is a server-push
// stream, so the only purpose is noticing disconnects promptly.
func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.unregister <- c
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
