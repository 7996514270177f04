// Package server exposes HTTP handlers: the WebSocket upgrade, a health
// check, and read-only JSON snapshots of the message history and user list.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
)

// handleWebSocket upgrades the HTTP connection and hands the client to the
// hub, which launches the pump goroutines.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg)
	s.hub.Register(client)
}

// handleHealth reports that the server is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Relay chat server is running!")
}

// handleMessages returns the current message history, oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.hub.Messages())
}

// handleUsers returns the currently registered users.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.hub.Users())
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, data any) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Error writing JSON response", "path", r.URL.Path, "err", err)
	}
}
