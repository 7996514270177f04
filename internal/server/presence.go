// Package server derives typing-indicator broadcasts from explicit typing
// events and disconnects.
package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// PresenceTracker records which connections are currently typing. Entries
// exist only while the owning connection exists and only while typing is
// active; there is no timeout-based auto-clear.
type PresenceTracker struct {
	mu     sync.Mutex
	typing map[string]string
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{typing: make(map[string]string)}
}

// SetTyping records or clears the typing flag for a connection and returns
// the resulting snapshot of typing display names. A connection without a
// resolved name (never joined) leaves the state untouched but still gets the
// current snapshot back.
func (p *PresenceTracker) SetTyping(id, name string, typing bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name != "" {
		if typing {
			p.typing[id] = name
		} else {
			delete(p.typing, id)
		}
	}
	return p.snapshotLocked()
}

// Clear removes any typing entry for the connection, called on disconnect,
// and returns the updated snapshot.
func (p *PresenceTracker) Clear(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.typing, id)
	return p.snapshotLocked()
}

// Snapshot returns the display names with typing active.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// snapshotLocked sorts the names so broadcasts are deterministic.
func (p *PresenceTracker) snapshotLocked() []string {
	names := lo.Values(p.typing)
	sort.Strings(names)
	return names
}
