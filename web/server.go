package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/models"
	"vigil/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same origin in production; dev
	// tooling connects from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the operator API for the session registry and the
// websocket endpoint for dashboard push.
type Server struct {
	registry *services.Registry
	hub      *Hub
	logger   *zap.Logger
}

func NewServer(registry *services.Registry, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/targets", s.handleTargets)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/config/delay", s.handleDelayConfig)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// handleTargets lists all session snapshots (GET) or starts tracking a new
// target (POST).
func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"targets":   s.registry.Targets(),
			"snapshots": s.registry.Snapshots(),
		})

	case http.MethodPost:
		target := r.FormValue("target")
		if target == "" {
			http.Error(w, "target is required", http.StatusBadRequest)
			return
		}
		if err := s.registry.Add(target); err != nil {
			http.Error(w, fmt.Sprintf("Failed to add target: %v", err), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]string{"target": target, "status": "tracking"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCommand applies a tracking command (add/remove/pause/resume) posted
// as JSON.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd models.TrackCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, fmt.Sprintf("Invalid command body: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.registry.Apply(cmd); err != nil {
		http.Error(w, fmt.Sprintf("Command failed: %v", err), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"action": string(cmd.Action),
		"target": cmd.Target,
		"status": "ok",
	})
}

// handleDelayConfig reads (GET) or updates (POST) the probe cadence window.
// An invalid range is rejected and the previous configuration stays active.
func (s *Server) handleDelayConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		minDelay, maxDelay := s.registry.DelayRange()
		s.writeJSON(w, http.StatusOK, map[string]int{
			"min_delay_ms": minDelay,
			"max_delay_ms": maxDelay,
		})

	case http.MethodPost:
		minDelay, err := strconv.Atoi(r.FormValue("min_delay_ms"))
		if err != nil {
			http.Error(w, "min_delay_ms must be an integer", http.StatusBadRequest)
			return
		}
		maxDelay, err := strconv.Atoi(r.FormValue("max_delay_ms"))
		if err != nil {
			http.Error(w, "max_delay_ms must be an integer", http.StatusBadRequest)
			return
		}
		if err := s.registry.SetDelayRange(minDelay, maxDelay); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{
			"min_delay_ms": minDelay,
			"max_delay_ms": maxDelay,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebSocket upgrades a dashboard connection and attaches it to the
// hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: s.logger,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
