package stream

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry maps shareable locators to their live session.
//
// Creation for a locator is serialized through a singleflight group, so
// concurrent first requests start one process and all observe the same
// session, while mu is only held for map access and never across a spawn.
// Registry never takes a session's lock; a session removes itself while
// holding its own lock (session lock, then registry lock).
type Registry struct {
	mu       sync.Mutex
	sessions map[Locator]*Session
	inflight singleflight.Group
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Locator]*Session)}
}

// GetOrCreate returns the live session for locator, creating it with spawn
// if there is none. When shareable is false spawn is always called and the
// registry is neither read nor written.
func (r *Registry) GetOrCreate(locator Locator, shareable bool, spawn func() (*Session, error)) (*Session, error) {
	if !shareable {
		return spawn()
	}
	if s, ok := r.Lookup(locator); ok {
		return s, nil
	}

	v, err, _ := r.inflight.Do(string(locator), func() (any, error) {
		// Another caller may have finished creating it since our lookup.
		if s, ok := r.Lookup(locator); ok {
			return s, nil
		}
		s, err := spawn()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		// A session that died before insertion has already tried to remove
		// itself; inserting it now would leave a dead entry behind.
		if s.State() != StateDead {
			r.sessions[locator] = s
		}
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns the session registered for locator if it is not dead.
func (r *Registry) Lookup(locator Locator) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[locator]
	if !ok || s.State() == StateDead {
		return nil, false
	}
	return s, true
}

// Remove erases the entry for locator only if it is s. It reports whether
// an entry was removed.
func (r *Registry) Remove(locator Locator, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[locator]; ok && cur == s {
		delete(r.sessions, locator)
		return true
	}
	return false
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Locators returns the registered locators in sorted order.
func (r *Registry) Locators() []Locator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Locator, 0, len(r.sessions))
	for l := range r.sessions {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
