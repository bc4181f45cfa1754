package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/bus"
	"github.com/tabletrace/tabletrace/internal/change"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubClient wraps one UI socket. gorilla allows a single concurrent
// writer, so each client serializes its own writes.
type hubClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *hubClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans change events out to every connected UI WebSocket client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// HandleWS upgrades the connection and parks it in the hub. The UI never
// sends anything meaningful; the read loop only detects disconnect.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &hubClient{conn: conn}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	zap.L().Info("UI client connected", zap.Int("clients", n))

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		conn.Close()
		zap.L().Info("UI client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends one change event to every client. A failed client is
// logged and left for its read loop to reap.
func (h *Hub) Broadcast(ev change.Event) {
	msg := map[string]any{"type": "db-change", "data": ev}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.send(msg); err != nil {
			zap.L().Warn("failed to send change to UI client", zap.Error(err))
		}
	}
}

// Forward drains one event bus into the hub until the bus closes,
// flushing whatever is still buffered at close.
func (h *Hub) Forward(b *bus.Bus) {
	for {
		select {
		case ev := <-b.Events():
			h.Broadcast(ev)
		case <-b.Done():
			for {
				select {
				case ev := <-b.Events():
					h.Broadcast(ev)
				default:
					return
				}
			}
		}
	}
}
