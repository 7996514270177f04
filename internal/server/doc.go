// Package server implements a single-room chat relay over WebSocket.
//
// The hub is the heart of the package: one goroutine that owns the connection
// registry, the bounded message history, and the typing tracker, consuming
// decoded client events in a single total order. Clients are thin transport
// adapters around a gorilla/websocket connection; the HTTP layer adds the
// upgrade endpoint plus read-only snapshots of history and presence.
package server
