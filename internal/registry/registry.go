// Package registry tracks the mobile clients currently paired with the host.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Entry is one open pairing connection as reported to the status UI.
type Entry struct {
	ID             string    `json:"id"`
	IP             string    `json:"ip"`
	ConnectedSince time.Time `json:"connectedSince"`
}

// ChangeFunc receives the registry contents after every membership change.
type ChangeFunc func(snapshot []Entry)

// Registry is a set of entries keyed by connection ID. The change callback
// runs after the lock is released, so it may call back into the Registry.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	onChange ChangeFunc
}

// New creates an empty Registry. onChange may be nil.
func New(onChange ChangeFunc) *Registry {
	return &Registry{
		entries:  make(map[string]Entry),
		onChange: onChange,
	}
}

// SetOnChange replaces the change callback.
func (r *Registry) SetOnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add inserts or replaces an entry.
func (r *Registry) Add(e Entry) {
	r.mu.Lock()
	r.entries[e.ID] = e
	snap, fn := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// TryAdd inserts e only while fewer than max entries exist. The capacity
// check and the insert happen under one lock, so concurrent accepts cannot
// overshoot max.
func (r *Registry) TryAdd(e Entry, max int) bool {
	r.mu.Lock()
	if _, exists := r.entries[e.ID]; !exists && len(r.entries) >= max {
		r.mu.Unlock()
		return false
	}
	r.entries[e.ID] = e
	snap, fn := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

// Remove deletes the entry with the given ID. It reports whether an entry
// was removed; the change callback only runs in that case.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	snap, fn := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the entries, oldest connection first.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedSince.Equal(out[j].ConnectedSince) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedSince.Before(out[j].ConnectedSince)
	})
	return out
}
