package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a session id is not registered.
var ErrNotFound = errors.New("session not found")

// Registry owns the session records the engine iterates over. The transport
// adds and removes sessions; the engine only reads. Per-session monitor state
// lives in the records, not in package-level maps, so tests can construct
// isolated registries.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// Add registers a session. Re-adding the same id replaces the record and
// resets its flags.
func (r *Registry) Add(s Session) *Record {
	rec := NewRecord(s)
	r.mu.Lock()
	r.records[s.ID()] = rec
	r.mu.Unlock()
	return rec
}

// Remove deletes a session record. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns all records sorted by session id for deterministic iteration.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.ID() < out[j].Session.ID()
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
