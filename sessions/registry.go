package sessions

import "sync"

// Registry is the in-memory session-id -> session mapping. It is the single
// source of truth for live session state; every handler fetches the canonical
// record, mutates its copy, and writes it back (or uses Update for an atomic
// read-modify-write).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns a deep copy of the session, or false when the id is unknown.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Set stores a deep copy of the session under its id.
func (r *Registry) Set(sessionID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = sess.Clone()
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// All returns deep copies of every live session, in unspecified order.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Update applies fn to the canonical record under the registry lock and
// reports whether the id was known. It exists for small mutations (state
// flips, timestamps) that must not race a concurrent write-back.
func (r *Registry) Update(sessionID string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	fn(sess)
	return true
}
