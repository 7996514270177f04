package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSendAndAck(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	require.Equal(t, "alice joined the chat.", decodeString(t, alice.expect(EventUserJoined)))

	bob := dialWS(t, ts)
	bob.emit(EventJoin, "bob")
	require.Equal(t, "bob joined the chat.", decodeString(t, alice.expect(EventUserJoined)))
	require.Equal(t, "bob joined the chat.", decodeString(t, bob.expect(EventUserJoined)))

	alice.emit(EventSendMessage, sendMessagePayload{Message: "hello"})

	received := decodeMessage(t, alice.expect(EventReceiveMessage))
	assert.Equal(t, "alice", received.Sender)
	assert.Equal(t, "hello", received.Body)
	assert.True(t, received.Delivered)
	assert.NotZero(t, received.ID)
	assert.NotEmpty(t, received.Timestamp)

	fromBob := decodeMessage(t, bob.expect(EventReceiveMessage))
	assert.Equal(t, received, fromBob, "all peers receive the exact stored message")

	// The ack arrives after the broadcast fan-out and only at the sender.
	var ack Ack
	require.NoError(t, json.Unmarshal(alice.expect(EventMessageAck), &ack))
	assert.Equal(t, AckDelivered, ack.Status)
	assert.Equal(t, received.ID, ack.ID)
	bob.expectNone(EventMessageAck, 200*time.Millisecond)
}

func TestJoinWithBlankNameIsIgnored(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "   ")
	alice.expectNone(EventUserJoined, 200*time.Millisecond)
	assert.Empty(t, srv.Hub().Users())
}

func TestAnonymousSender(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	watcher := dialWS(t, ts)
	watcher.emit(EventJoin, "watcher")
	watcher.expect(EventUserJoined)

	stranger := dialWS(t, ts)
	stranger.emit(EventSendMessage, sendMessagePayload{Message: "who am I"})

	received := decodeMessage(t, watcher.expect(EventReceiveMessage))
	assert.Equal(t, AnonymousName, received.Sender)

	// A connection that never joined leaves without an announcement.
	require.NoError(t, stranger.conn.Close())
	watcher.expectNone(EventUserLeft, 300*time.Millisecond)
}

func TestHistoryEvictionAndPagination(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)

	for i := 1; i <= DefaultHistoryLimit+1; i++ {
		alice.emit(EventSendMessage, sendMessagePayload{Message: fmt.Sprintf("message %d", i)})
		alice.expect(EventReceiveMessage)
		alice.expect(EventMessageAck)
	}

	late := dialWS(t, ts)
	late.emit(EventLoadOlder, DefaultHistoryLimit)

	older := decodeMessages(t, late.expect(EventOlderMessages))
	require.Len(t, older, DefaultHistoryLimit)
	assert.Equal(t, "message 2", older[0].Body, "the very first message must be evicted")
	assert.Equal(t, fmt.Sprintf("message %d", DefaultHistoryLimit+1), older[len(older)-1].Body)
	for i := 1; i < len(older); i++ {
		assert.Less(t, older[i-1].ID, older[i].ID, "arrival order must be preserved")
	}
}

func TestLoadOlderVariants(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)
	for i := 1; i <= 10; i++ {
		alice.emit(EventSendMessage, sendMessagePayload{Message: fmt.Sprintf("message %d", i)})
		alice.expect(EventMessageAck)
	}

	t.Run("object payload honors count, ignores page", func(t *testing.T) {
		alice.emit(EventLoadOlder, loadOlderPayload{Count: 3, Page: 7})
		older := decodeMessages(t, alice.expect(EventOlderMessages))
		require.Len(t, older, 3)
		assert.Equal(t, "message 8", older[0].Body)
	})

	t.Run("absent count yields empty reply", func(t *testing.T) {
		alice.emit(EventLoadOlder, nil)
		assert.Empty(t, decodeMessages(t, alice.expect(EventOlderMessages)))
	})
}

func TestSearchMessages(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)
	bob := dialWS(t, ts)
	bob.emit(EventJoin, "bob")
	bob.expect(EventUserJoined)

	alice.emit(EventSendMessage, sendMessagePayload{Message: "weather today"})
	alice.expect(EventMessageAck)
	bob.emit(EventSendMessage, sendMessagePayload{Message: "sports news"})
	bob.expect(EventMessageAck)

	searcher := dialWS(t, ts)
	searcher.emit(EventSearchMessages, "WEATHER")

	results := decodeMessages(t, searcher.expect(EventSearchResults))
	require.Len(t, results, 1)
	assert.Equal(t, "weather today", results[0].Body)
	assert.Equal(t, "alice", results[0].Sender)

	searcher.emit(EventSearchMessages, "   ")
	assert.Empty(t, decodeMessages(t, searcher.expect(EventSearchResults)))
}

func TestTypingIndicatorsAndDisconnect(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)
	bob := dialWS(t, ts)
	bob.emit(EventJoin, "bob")
	bob.expect(EventUserJoined)
	alice.expect(EventUserJoined)

	alice.emit(EventTyping, true)
	require.Equal(t, []string{"alice"}, decodeNames(t, alice.expect(EventTypingUsers)))
	require.Equal(t, []string{"alice"}, decodeNames(t, bob.expect(EventTypingUsers)))

	bob.emit(EventTyping, true)
	require.Equal(t, []string{"alice", "bob"}, decodeNames(t, bob.expect(EventTypingUsers)))

	alice.emit(EventTyping, false)
	require.Equal(t, []string{"bob"}, decodeNames(t, bob.expect(EventTypingUsers)))

	// Disconnect forces not-typing and announces the departure.
	bob.emit(EventTyping, true)
	bob.expect(EventTypingUsers)
	require.NoError(t, bob.conn.Close())

	require.Equal(t, "bob left the chat.", decodeString(t, alice.expect(EventUserLeft)))
	require.Empty(t, decodeNames(t, alice.expect(EventTypingUsers)))
}

func TestPrivateMessageDeliveryAndEcho(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)
	bob := dialWS(t, ts)
	bob.emit(EventJoin, "bob")
	bob.expect(EventUserJoined)
	carol := dialWS(t, ts)
	carol.emit(EventJoin, "carol")
	carol.expect(EventUserJoined)

	var bobID string
	for _, user := range srv.Hub().Users() {
		if user.Username == "bob" {
			bobID = user.ID
		}
	}
	require.NotEmpty(t, bobID)

	alice.emit(EventPrivateMessage, privateMessagePayload{To: bobID, Message: "psst"})

	toBob := decodeMessage(t, bob.expect(EventPrivateMessage))
	assert.Equal(t, "alice", toBob.Sender)
	assert.Equal(t, "psst", toBob.Body)
	assert.True(t, toBob.Private)
	assert.NotZero(t, toBob.ID)

	echo := decodeMessage(t, alice.expect(EventPrivateMessage))
	assert.Equal(t, toBob, echo, "sender receives the same stamped message")

	assert.Empty(t, srv.Hub().Messages(), "private messages never enter shared history")
	carol.expectNone(EventPrivateMessage, 300*time.Millisecond)
}

func TestPrivateMessageToUnknownTargetStillEchoes(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)

	alice.emit(EventPrivateMessage, privateMessagePayload{To: "no-such-conn", Message: "hello?"})
	echo := decodeMessage(t, alice.expect(EventPrivateMessage))
	assert.Equal(t, "hello?", echo.Body)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit("frobnicate", map[string]string{"x": "y"})
	alice.emit(EventJoin, "alice")
	require.Equal(t, "alice joined the chat.", decodeString(t, alice.expect(EventUserJoined)))
}

func TestRateLimitDropsExcessEvents(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitBurst = 2
	cfg.RateLimitRefill = time.Hour
	_, ts := newTestServer(t, cfg)

	watcher := dialWS(t, ts)

	sender := dialWS(t, ts)
	for i := 1; i <= 5; i++ {
		sender.emit(EventSendMessage, sendMessagePayload{Message: fmt.Sprintf("burst %d", i)})
	}

	watcher.expect(EventReceiveMessage)
	watcher.expect(EventReceiveMessage)
	watcher.expectNone(EventReceiveMessage, 300*time.Millisecond)
}

func TestBroadcastOrderIsTotal(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts)
	alice.emit(EventJoin, "alice")
	alice.expect(EventUserJoined)

	watcher := dialWS(t, ts)

	for i := 1; i <= 20; i++ {
		alice.emit(EventSendMessage, sendMessagePayload{Message: fmt.Sprintf("message %d", i)})
		alice.expect(EventMessageAck)
	}

	var lastID int64
	for i := 1; i <= 20; i++ {
		msg := decodeMessage(t, watcher.expect(EventReceiveMessage))
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Body)
		assert.Greater(t, msg.ID, lastID)
		lastID = msg.ID
	}
}

func TestHubSubmitAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(10)
	go hub.Run()
	require.NoError(t, hub.Shutdown(time.Second))

	done := make(chan struct{})
	go func() {
		hub.submit(inboundEvent{client: &Client{id: "x"}, name: EventTyping})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit blocked after shutdown")
	}
}

func TestHubRejectsNilClientRegistration(t *testing.T) {
	hub := NewHub(10)
	go hub.Run()
	defer func() { _ = hub.Shutdown(time.Second) }()

	select {
	case hub.register <- nil:
	case <-time.After(time.Second):
		t.Fatal("register channel not consumed")
	}
	assert.Empty(t, hub.Users())
}
