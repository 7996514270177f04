// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client represents one WebSocket connection. Its id is the opaque connection
// identifier used by the registry, presence tracker, and private-message
// addressing; the display name lives in the registry, not here.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a client for an upgraded connection and assigns it a
// fresh connection id. The send channel is buffered so broadcasts never block
// the hub loop.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefill),
		rateLimit:      RateLimitConfig{Burst: cfg.RateLimitBurst, RefillInterval: cfg.RateLimitRefill},
	}
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error("Error setting initial read deadline", "conn", c.id, "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Error("Error setting read deadline in pong handler", "conn", c.id, "err", err)
		}
		return nil
	})
}

// handleReadError classifies a read failure and reports whether the read loop
// should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warn("Message exceeded maximum size", "conn", c.id, "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Info("Client disconnected", "conn", c.id, "err", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Info("Client connection closed", "conn", c.id, "err", err)
		return true
	}

	log.Warn("WebSocket read error", "conn", c.id, "err", err)
	return true
}

// decodeEvent parses an inbound frame into an event for the hub. Frames that
// are not valid envelopes are dropped, never fatal to the connection.
func (c *Client) decodeEvent(raw []byte) (inboundEvent, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug("Dropping malformed frame", "conn", c.id, "err", err)
		return inboundEvent{}, false
	}
	if env.Event == "" {
		log.Debug("Dropping frame without event name", "conn", c.id)
		return inboundEvent{}, false
	}
	return inboundEvent{client: c, name: env.Event, data: env.Data}, true
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Error("Error closing connection in readPump", "conn", c.id, "err", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		if c.limiter != nil && !c.limiter.allow() {
			log.Warn("Rate limit exceeded; discarding event",
				"conn", c.id, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
			continue
		}

		if evt, ok := c.decodeEvent(raw); ok {
			c.hub.submit(evt)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Error("Error closing connection in writePump", "conn", c.id, "err", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.writeOutbound(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeOutbound delivers one queued event as its own text frame and reports
// whether the pump should keep running. Events are never coalesced; each
// envelope is one frame.
func (c *Client) writeOutbound(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Error("Error setting write deadline", "conn", c.id, "err", err)
		return false
	}

	if !ok {
		// The hub closed the send channel.
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			log.Error("Error writing close message", "conn", c.id, "err", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Error("Error writing message", "conn", c.id, "err", err)
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Error("Error setting write deadline for ping", "conn", c.id, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			log.Error("Error writing ping message", "conn", c.id, "err", err)
		}
		return false
	}
	return true
}
