// Package server coordinates client registration, event dispatch, message
// broadcast, and connection cleanup via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// inboundEvent is one decoded client event queued for the hub loop.
type inboundEvent struct {
	client *Client
	name   string
	data   json.RawMessage
}

// Hub owns the connection registry, message store, and presence tracker, and
// is the only component that mutates them. Every state transition happens
// inside Run's loop, so events from all connections are processed in a single
// total order.
type Hub struct {
	registry *ConnectionRegistry
	store    *MessageStore
	presence *PresenceTracker

	clients map[*Client]bool
	byID    map[string]*Client

	events     chan inboundEvent
	register   chan *Client
	unregister chan *Client

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub whose message buffer is bounded at historyLimit.
func NewHub(historyLimit int) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewConnectionRegistry(),
		store:      NewMessageStore(historyLimit),
		presence:   NewPresenceTracker(),
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		events:     make(chan inboundEvent),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Messages returns a snapshot of the buffered history, oldest first.
func (h *Hub) Messages() []Message {
	return h.store.Snapshot()
}

// Users returns a snapshot of the registered users.
func (h *Hub) Users() []UserInfo {
	return h.registry.List()
}

// Register queues a client for registration with the hub loop.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// submit hands a decoded event to the hub loop, dropping it if the hub is
// shutting down.
func (h *Hub) submit(evt inboundEvent) {
	select {
	case h.events <- evt:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's event loop. It must run in its own goroutine and
// processes registration, disconnects, and client events until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Warn("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.dropClient(client)

		case evt := <-h.events:
			h.dispatch(evt)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	h.byID[client.id] = client
	total := len(h.clients)
	h.mutex.Unlock()

	log.Info("Client connected", "conn", client.id, "addr", client.addr, "total", total)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// dropClient removes the connection and announces the departure of joined
// users to the remaining peers.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.byID, client.id)
	client.closed = true
	total := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	log.Info("Client disconnected", "conn", client.id, "total", total)

	name, joined := h.registry.Unregister(client.id)
	typing := h.presence.Clear(client.id)
	if joined {
		h.broadcast(EventUserLeft, fmt.Sprintf("%s left the chat.", name))
		h.broadcast(EventTypingUsers, typing)
	}
}

// dispatch routes one inbound event. Malformed payloads degrade to defaults;
// nothing here terminates the connection.
func (h *Hub) dispatch(evt inboundEvent) {
	switch evt.name {
	case EventJoin:
		h.handleJoin(evt)
	case EventSendMessage:
		h.handleSendMessage(evt)
	case EventLoadOlder:
		h.handleLoadOlder(evt)
	case EventSearchMessages:
		h.handleSearchMessages(evt)
	case EventTyping:
		h.handleTyping(evt)
	case EventPrivateMessage:
		h.handlePrivateMessage(evt)
	default:
		log.Debug("Ignoring unknown event", "event", evt.name, "conn", evt.client.id)
	}
}

func (h *Hub) handleJoin(evt inboundEvent) {
	var name string
	if err := json.Unmarshal(evt.data, &name); err != nil {
		log.Debug("Malformed join payload", "conn", evt.client.id, "err", err)
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	h.registry.Register(evt.client.id, name)
	h.broadcast(EventUserJoined, fmt.Sprintf("%s joined the chat.", name))
}

func (h *Hub) handleSendMessage(evt inboundEvent) {
	var payload sendMessagePayload
	if err := json.Unmarshal(evt.data, &payload); err != nil {
		log.Debug("Malformed send_message payload", "conn", evt.client.id, "err", err)
		h.sendTo(evt.client, EventMessageAck, Ack{Status: AckFailed})
		return
	}

	sender, ok := h.registry.Lookup(evt.client.id)
	if !ok {
		sender = AnonymousName
	}

	stored := h.store.Append(Message{
		Sender:    sender,
		SenderID:  evt.client.id,
		Body:      payload.Message,
		Delivered: true,
	})

	// Fan out first so the sender is told "delivered" only after every
	// connected peer has the message enqueued.
	h.broadcast(EventReceiveMessage, stored)
	h.sendTo(evt.client, EventMessageAck, Ack{Status: AckDelivered, ID: stored.ID})
}

func (h *Hub) handleLoadOlder(evt inboundEvent) {
	var payload loadOlderPayload
	if err := json.Unmarshal(evt.data, &payload); err != nil {
		log.Debug("Malformed load_older payload", "conn", evt.client.id, "err", err)
	}
	h.sendTo(evt.client, EventOlderMessages, h.store.Suffix(payload.Count))
}

func (h *Hub) handleSearchMessages(evt inboundEvent) {
	var term string
	if err := json.Unmarshal(evt.data, &term); err != nil {
		log.Debug("Malformed search_messages payload", "conn", evt.client.id, "err", err)
	}
	h.sendTo(evt.client, EventSearchResults, h.store.Search(term))
}

func (h *Hub) handleTyping(evt inboundEvent) {
	var typing bool
	if err := json.Unmarshal(evt.data, &typing); err != nil {
		log.Debug("Malformed typing payload", "conn", evt.client.id, "err", err)
		return
	}

	name, _ := h.registry.Lookup(evt.client.id)
	h.broadcast(EventTypingUsers, h.presence.SetTyping(evt.client.id, name, typing))
}

// handlePrivateMessage delivers a stamped private message to one recipient
// and echoes it to the sender; it never touches the shared history.
func (h *Hub) handlePrivateMessage(evt inboundEvent) {
	var payload privateMessagePayload
	if err := json.Unmarshal(evt.data, &payload); err != nil {
		log.Debug("Malformed private_message payload", "conn", evt.client.id, "err", err)
		return
	}

	sender, ok := h.registry.Lookup(evt.client.id)
	if !ok {
		sender = AnonymousName
	}

	msg := h.store.Stamp(Message{
		Sender:   sender,
		SenderID: evt.client.id,
		Body:     payload.Message,
		Private:  true,
	})

	if target := h.clientByID(payload.To); target != nil && target != evt.client {
		h.sendTo(target, EventPrivateMessage, msg)
	}
	h.sendTo(evt.client, EventPrivateMessage, msg)
}

func (h *Hub) clientByID(id string) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.byID[id]
}

// broadcast encodes the event once and fans it out to every connection.
func (h *Hub) broadcast(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Error("Failed to encode broadcast", "event", event, "err", err)
		return
	}

	clients := h.clientSnapshot()
	log.Debug("Broadcasting event", "event", event, "recipients", len(clients))

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// sendTo delivers an event to a single connection, the private-reply path
// for history, search, acks, and direct messages.
func (h *Hub) sendTo(client *Client, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Error("Failed to encode event", "event", event, "err", err)
		return
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
	}
}

func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed
	// out from under us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose send buffers were full; they are
// assumed dead or stuck.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channels []chan []byte
	var dropped []*Client
	for _, client := range failed {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			delete(h.byID, client.id)
			client.closed = true
			channels = append(channels, client.send)
			dropped = append(dropped, client)
			log.Warn("Removing client with full send buffer", "conn", client.id)
		}
	}
	h.mutex.Unlock()

	// Close the channels after releasing the lock.
	for _, ch := range channels {
		close(ch)
	}

	for _, client := range dropped {
		h.registry.Unregister(client.id)
		h.presence.Clear(client.id)
	}
}

// shutdownClients closes every active connection during hub shutdown.
// Closing the send channels unblocks the write pumps; closing the sockets
// unblocks the read pumps.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		delete(h.clients, client)
		delete(h.byID, client.id)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Error("Error closing client connection", "conn", client.id, "err", err)
			}
		}
	}

	log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the hub loop, closes all connections, and waits for the
// pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn("Hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
