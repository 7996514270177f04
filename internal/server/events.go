// Package server defines the wire protocol shared by clients and the hub:
// the event envelope, inbound payload shapes, and the chat message format.
package server

import (
	"encoding/json"
	"strings"
)

// Inbound event names (client to server).
const (
	EventJoin           = "join"
	EventSendMessage    = "send_message"
	EventLoadOlder      = "load_older"
	EventSearchMessages = "search_messages"
	EventTyping         = "typing"
	EventPrivateMessage = "private_message"
)

// Outbound event names (server to client).
const (
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventReceiveMessage = "receive_message"
	EventOlderMessages  = "older_messages"
	EventSearchResults  = "search_results"
	EventTypingUsers    = "typing_users"
	EventMessageAck     = "message_ack"
)

// Ack statuses reported back to the sender of a message.
const (
	AckDelivered = "delivered"
	AckFailed    = "failed"
)

// AnonymousName stamps messages from connections that never joined.
const AnonymousName = "Anonymous"

// Envelope is the framing for every event in both directions:
// {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a single chat message. Once stamped and stored it is never
// mutated.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	Body      string `json:"message"`
	Timestamp string `json:"timestamp"`
	Delivered bool   `json:"delivered"`
	Private   bool   `json:"isPrivate,omitempty"`
}

// Ack acknowledges a send_message back to its sender only.
type Ack struct {
	Status string `json:"status"`
	ID     int64  `json:"id,omitempty"`
}

// UserInfo is one registry entry as exposed to clients.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type sendMessagePayload struct {
	Message string `json:"message"`
}

type privateMessagePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// loadOlderPayload accepts either a bare number or {"count": n, "page": p}.
// The page field is carried by clients but only the count is honored; each
// request is a suffix read of the most recent count messages.
type loadOlderPayload struct {
	Count int `json:"count"`
	Page  int `json:"page"`
}

func (p *loadOlderPayload) UnmarshalJSON(data []byte) error {
	var count int
	if err := json.Unmarshal(data, &count); err == nil {
		p.Count = count
		return nil
	}

	type alias loadOlderPayload
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = loadOlderPayload(obj)
	return nil
}

func encodeEvent(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
