package sessions

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store implementations for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store is the persistence boundary for session records. The engine treats
// it as a rehydration cache behind the registry: load on memory miss, save
// after successful mutations, both best-effort for availability.
type Store interface {
	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*Session, error)
	// Save upserts the session snapshot.
	Save(ctx context.Context, sess *Session) error
	// Delete removes the session. Unknown ids are not an error.
	Delete(ctx context.Context, sessionID string) error
}
