// Package feed streams stored chat turns to websocket clients.
package feed

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Hub tracks active feed connections.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]*websocket.Conn),
	}
}

// Register adds conn and returns its connection id.
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[id] = conn
	slog.Info("Feed connection registered", "conn_id", id, "active", len(h.active))
	return id
}

// Unregister removes the connection with id.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[id]; ok {
		delete(h.active, id)
		slog.Info("Feed connection unregistered", "conn_id", id, "active", len(h.active))
	}
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// CloseAll closes every active connection, typically on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Feed connection closed", "conn_id", id)
	}
	clear(h.active)
}
