package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// testConfig returns a config suitable for in-process tests: any origin is
// allowed and the rate limiter is effectively disabled.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.RateLimitBurst = 10000
	return cfg
}

// newTestServer starts the hub loop and serves the routes over httptest.
func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(cfg)
	go srv.hub.Run()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.hub.Shutdown(2 * time.Second)
	})
	return srv, ts
}

// newUnmanagedTestServer serves the routes without scheduling a hub shutdown,
// for tests that drive the shutdown themselves.
func newUnmanagedTestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// wsClient wraps a dialed websocket connection with event-level helpers.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()

	header := http.Header{"Origin": []string{ts.URL}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()

	payload, err := json.Marshal(data)
	require.NoError(c.t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one matches the wanted event, skipping unrelated
// broadcasts, and returns its data.
func (c *wsClient) expect(event string) json.RawMessage {
	c.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, frame, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %q", event)

		var env Envelope
		require.NoError(c.t, json.Unmarshal(frame, &env))
		if env.Event == event {
			return env.Data
		}
	}
}

// expectNone fails the test if the event arrives within wait. The connection
// should not be reused for reads afterwards.
func (c *wsClient) expectNone(event string, wait time.Duration) {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(frame, &env) == nil && env.Event == event {
			c.t.Fatalf("unexpected %q event", event)
		}
	}
}

func decodeString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func decodeMessage(t *testing.T, raw json.RawMessage) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func decodeMessages(t *testing.T, raw json.RawMessage) []Message {
	t.Helper()
	var msgs []Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	return msgs
}

func decodeNames(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var names []string
	require.NoError(t, json.Unmarshal(raw, &names))
	return names
}
