// Package server constructs and runs the relay HTTP service with sensible
// production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Server bundles the hub and the HTTP layer around one configuration. All
// state lives here rather than in package globals, so tests and main both
// construct their own instance.
type Server struct {
	cfg      Config
	hub      *Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

// New creates a server from cfg. The hub is not running until Start (or a
// direct go hub.Run() in tests).
func New(cfg Config) *Server {
	cfg.sanitize()

	s := &Server{
		cfg: cfg,
		hub: NewHub(cfg.HistoryLimit),
	}

	policy := newOriginPolicy(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkRequest,
	}

	s.http = &http.Server{
		Addr:         cfg.Port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the server's hub, used by main for shutdown coordination and by
// tests for direct state inspection.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub loop and begins serving HTTP. It blocks until the HTTP
// server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	log.Info("Hub started and ready to manage WebSocket connections")
	log.Info("Server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, then the hub, waiting up to
// timeout for each.
func (s *Server) Shutdown(timeout time.Duration) error {
	log.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "err", err)
		return err
	}

	return s.hub.Shutdown(timeout)
}
