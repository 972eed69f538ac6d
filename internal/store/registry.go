package store

import (
	"sync"
	"time"
)

// Registry remembers server ids of self-authored writes that the
// Optimistic Writer has already reconciled, so the Realtime Reconciler can
// recognize the feed echo of its own insert and discard it. Entries decay
// after a short grace period; the feed is not expected to echo a write
// much later than the write itself.
type Registry struct {
	mu    sync.Mutex
	ids   map[int64]time.Time
	grace time.Duration
	now   func() time.Time
}

// NewRegistry creates a registry whose entries expire after grace.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		ids:   make(map[int64]time.Time),
		grace: grace,
		now:   time.Now,
	}
}

// Add records a freshly reconciled server id.
func (r *Registry) Add(serverID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.ids[serverID] = r.now().Add(r.grace)
}

// Seen reports whether the server id belongs to an already reconciled
// self-authored write.
func (r *Registry) Seen(serverID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	_, ok := r.ids[serverID]
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.ids)
}

func (r *Registry) pruneLocked() {
	now := r.now()
	for id, deadline := range r.ids {
		if now.After(deadline) {
			delete(r.ids, id)
		}
	}
}
