// Package presence tracks which users hold open connections to a document.
//
// Entries are kept per connection handle, so a user with two tabs open has
// two entries and is only gone once both are removed. List collapses the
// entries to one user each.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"collabtext/internal/store"
)

// Tracker records live connections per document.
type Tracker interface {
	Add(ctx context.Context, doc store.DocumentID, user store.User, handle string) error
	// Refresh marks the entry as still alive. Shared trackers forget entries
	// that are not refreshed within their TTL.
	Refresh(ctx context.Context, doc store.DocumentID, user store.User, handle string) error
	Remove(ctx context.Context, doc store.DocumentID, user store.User, handle string) error
	List(ctx context.Context, doc store.DocumentID) ([]store.User, error)
}

const (
	// DefaultTTL is how long a shared entry survives without a refresh.
	DefaultTTL = 5 * time.Minute
	// RefreshInterval is how often live connections refresh their entry.
	RefreshInterval = time.Minute
)

// Memory is a Tracker for a single process.
type Memory struct {
	mu      sync.Mutex
	entries map[store.DocumentID]map[string]store.User // doc -> handle -> user
}

var _ Tracker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[store.DocumentID]map[string]store.User)}
}

func (m *Memory) Add(_ context.Context, doc store.DocumentID, user store.User, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.entries[doc]
	if !ok {
		conns = make(map[string]store.User)
		m.entries[doc] = conns
	}
	conns[handle] = user
	return nil
}

// Refresh is a no-op: memory entries die with the process that owns the
// connections.
func (m *Memory) Refresh(context.Context, store.DocumentID, store.User, string) error {
	return nil
}

func (m *Memory) Remove(_ context.Context, doc store.DocumentID, user store.User, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.entries[doc]
	if !ok {
		return nil
	}
	if u, ok := conns[handle]; ok && u.ID == user.ID {
		delete(conns, handle)
	}
	if len(conns) == 0 {
		delete(m.entries, doc)
	}
	return nil
}

func (m *Memory) List(_ context.Context, doc store.DocumentID) ([]store.User, error) {
	m.mu.Lock()
	users := make([]store.User, 0, len(m.entries[doc]))
	for _, u := range m.entries[doc] {
		users = append(users, u)
	}
	m.mu.Unlock()
	return dedupe(users), nil
}

// Connections returns the number of entries for doc, counting tabs
// separately.
func (m *Memory) Connections(doc store.DocumentID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[doc])
}

// dedupe keeps one entry per user id, ordered by id.
func dedupe(users []store.User) []store.User {
	seen := make(map[store.UserID]bool, len(users))
	out := users[:0]
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
