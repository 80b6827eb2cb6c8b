// Package web exposes the operator HTTP API and the websocket push channel
// the dashboard consumes.
package web

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"vigil/models"
)

// Hub maintains the set of connected dashboard clients and broadcasts
// session snapshots to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
	mu         sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Dashboard client connected",
				zap.String("remote", client.conn.RemoteAddr().String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Dashboard client disconnected",
				zap.String("remote", client.conn.RemoteAddr().String()))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client cannot keep up; drop it.
					h.logger.Warn("Dashboard client send buffer full, removing",
						zap.String("remote", client.conn.RemoteAddr().String()))
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastSnapshot pushes one session snapshot to every connected client.
func (h *Hub) BroadcastSnapshot(snap *models.SessionSnapshot) {
	messageBytes, err := json.Marshal(map[string]interface{}{"type": "snapshot", "payload": snap})
	if err != nil {
		h.logger.Error("Error marshalling snapshot for broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- messageBytes:
	default:
		h.logger.Warn("Broadcast queue full, dropping snapshot",
			zap.String("target", snap.Target))
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
