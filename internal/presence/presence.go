// Package presence tracks which users currently have at least one open
// connection. The registry is purely in-memory and scoped to the server
// process; it starts empty on every restart.
package presence

import (
	"sort"
	"sync"
)

// Registry keeps a connection reference count per user. A user is
// online while their count is above zero, so multiple tabs or devices
// of the same user collapse into a single online entry.
type Registry struct {
	mu   sync.RWMutex
	refs map[string]int
}

func NewRegistry() *Registry {
	return &Registry{refs: make(map[string]int)}
}

// MarkOnline increments the user's connection count and reports whether
// this was their first open connection.
func (r *Registry) MarkOnline(userID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refs[userID]++
	return r.refs[userID] == 1
}

// MarkOffline decrements the user's connection count and reports
// whether this was their last open connection. Calling it for a user
// with no open connections is a no-op.
func (r *Registry) MarkOffline(userID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.refs[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.refs, userID)
		return true
	}
	r.refs[userID] = n - 1
	return false
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[userID] > 0
}

// Snapshot returns the sorted set of online user IDs. It is used to
// seed newly connected clients and for presence broadcasts.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]string, 0, len(r.refs))
	for id := range r.refs {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}
