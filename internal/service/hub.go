package service

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// RunEvent is pushed to dashboard subscribers as runs move through their
// lifecycle.
type RunEvent struct {
	Type   string `json:"type"` // "run_start", "run_complete", "run_failed", "run_cancelled"
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Hub fans run events out to connected dashboards.
type Hub struct {
	dashboards map[*websocket.Conn]bool
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		dashboards: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dashboards[conn] = true
	slog.Info("Dashboard connected", "total_connections", len(h.dashboards))
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.dashboards[conn]; ok {
		delete(h.dashboards, conn)
		conn.Close()
		slog.Info("Dashboard disconnected", "total_connections", len(h.dashboards))
	}
}

func (h *Hub) Broadcast(event RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload, _ := json.Marshal(event)
	for conn := range h.dashboards {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Error("Run event broadcast failed", "error", err)
			conn.Close()
			delete(h.dashboards, conn)
		}
	}
}
