// Package memorystore provides an in-memory sessions.Store. It is suitable
// for single-instance deployments and tests; snapshots do not survive a
// process restart.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
)

// Store implements sessions.Store backed by a map of deep-copied snapshots.
// Idle sessions are swept out after the configured TTL, judged from the
// snapshot's LastActiveAt.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*sessions.Session

	ttl           time.Duration
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	closeOnce     sync.Once
}

// StoreOption configures the memory store.
type StoreOption func(*Store)

// WithTTL sets how long an idle session snapshot is retained. A zero or
// negative TTL disables sweeping.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// NewStore creates a memory-backed store. The default TTL is 24 hours.
func NewStore(opts ...StoreOption) *Store {
	store := &Store{
		snapshots:   make(map[string]*sessions.Session),
		ttl:         24 * time.Hour,
		cleanupDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	if store.ttl > 0 {
		store.cleanupTicker = time.NewTicker(store.ttl / 4)
		go store.sweepExpired()
	}

	return store
}

var _ sessions.Store = (*Store)(nil)

// Load implements sessions.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (*sessions.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return snap.Clone(), nil
}

// Save implements sessions.Store.
func (s *Store) Save(ctx context.Context, sess *sessions.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sess.SessionID] = sess.Clone()
	return nil
}

// Delete implements sessions.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

// Close stops the sweep goroutine. The store remains usable afterwards but
// no longer expires snapshots.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
		close(s.cleanupDone)
	})
	return nil
}

func (s *Store) sweepExpired() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.performSweep(time.Now())
		case <-s.cleanupDone:
			return
		}
	}
}

func (s *Store) performSweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, snap := range s.snapshots {
		if now.Sub(snap.LastActiveAt) > s.ttl {
			delete(s.snapshots, id)
		}
	}
}
