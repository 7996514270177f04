// Package server tracks which connections have declared an identity. The
// registry is the source of truth for "who is online."
package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// ConnectionRegistry maps a connection id to the display name declared on
// join. All mutation happens inside the hub loop; the mutex exists so the
// read-only HTTP snapshot can observe the registry concurrently.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{users: make(map[string]string)}
}

// Register inserts or overwrites the entry for id. Name validation is the
// caller's responsibility.
func (r *ConnectionRegistry) Register(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = name
}

// Unregister removes the entry for id and returns the prior display name.
// A missing entry is a no-op, not an error: disconnect can race with a
// connection that never joined.
func (r *ConnectionRegistry) Unregister(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.users[id]
	if ok {
		delete(r.users, id)
	}
	return name, ok
}

// Lookup returns the display name for id, if one was registered.
func (r *ConnectionRegistry) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.users[id]
	return name, ok
}

// List returns a point-in-time snapshot of all registered users, ordered by
// display name.
func (r *ConnectionRegistry) List() []UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := lo.MapToSlice(r.users, func(id, name string) UserInfo {
		return UserInfo{ID: id, Username: name}
	})
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username == users[j].Username {
			return users[i].ID < users[j].ID
		}
		return users[i].Username < users[j].Username
	})
	return users
}

// Len reports the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
