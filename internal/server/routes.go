// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// Routes configures and returns the HTTP mux: health check, WebSocket
// endpoint, and the read-only snapshot API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/users", s.handleUsers)
	return mux
}
