// Package server keeps the bounded, append-only buffer of chat messages and
// answers suffix pagination and substring search queries against it.
package server

import (
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultHistoryLimit caps the message buffer when no explicit bound is
// configured.
const DefaultHistoryLimit = 100

// MessageStore is an ordered sequence of messages, oldest first. Once the
// configured bound is exceeded the oldest message is evicted. Appends happen
// only inside the hub loop; the mutex makes the snapshot reads safe.
type MessageStore struct {
	mu     sync.RWMutex
	limit  int
	lastID int64
	msgs   []Message
}

// NewMessageStore creates a store bounded at limit messages. A non-positive
// limit falls back to DefaultHistoryLimit.
func NewMessageStore(limit int) *MessageStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MessageStore{limit: limit}
}

// Stamp fills in the id and timestamp of msg when unset and returns the
// result. Ids are unix milliseconds, bumped when two messages land in the
// same millisecond so ordering stays distinguishable within a process.
func (s *MessageStore) Stamp(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stampLocked(msg)
}

func (s *MessageStore) stampLocked(msg Message) Message {
	if msg.ID == 0 {
		id := time.Now().UnixMilli()
		if id <= s.lastID {
			id = s.lastID + 1
		}
		msg.ID = id
	}
	if msg.ID > s.lastID {
		s.lastID = msg.ID
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return msg
}

// Append stamps msg, pushes it to the end of the sequence, and evicts the
// oldest entry if the bound is exceeded. It returns the stored message so the
// caller broadcasts exactly what was persisted.
func (s *MessageStore) Append(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamped := s.stampLocked(msg)
	s.msgs = append(s.msgs, stamped)
	if len(s.msgs) > s.limit {
		s.msgs = s.msgs[len(s.msgs)-s.limit:]
	}
	return stamped
}

// Suffix returns the last n messages in arrival order, oldest of the slice
// first, or fewer if the store holds fewer. A non-positive n yields an empty
// sequence.
func (s *MessageStore) Suffix(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []Message{}
	}
	if n > len(s.msgs) {
		n = len(s.msgs)
	}
	out := make([]Message, n)
	copy(out, s.msgs[len(s.msgs)-n:])
	return out
}

// Search returns every message whose body contains term, case-insensitively,
// preserving store order. An empty or whitespace-only term yields no results.
func (s *MessageStore) Search(term string) []Message {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return []Message{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(s.msgs, func(msg Message, _ int) bool {
		return strings.Contains(strings.ToLower(msg.Body), needle)
	})
}

// Snapshot returns a copy of the full buffer, oldest first.
func (s *MessageStore) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len reports the number of buffered messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
