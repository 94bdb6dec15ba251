package sessions

import (
	"errors"
	"sync"
)

// ErrSessionBusy is returned by BeginExclusive when the session already has a
// tracked operation.
var ErrSessionBusy = errors.New("session has an operation in progress")

// Tracker records in-flight operations per session and enforces the
// single-flight discipline: at most one prompt execution mutates a session's
// workspace at a time. Every Begin must be paired with a Complete on a path
// that runs unconditionally (defer), otherwise the session appears busy
// forever.
type Tracker struct {
	mu  sync.Mutex
	ops map[string]map[string]*CancellationToken
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ops: make(map[string]map[string]*CancellationToken)}
}

// Begin tracks an operation and returns its cancellation token. Operation
// ids must be unique per invocation; beginning an already-tracked id returns
// the existing token.
func (t *Tracker) Begin(sessionID, operationID string) *CancellationToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginLocked(sessionID, operationID)
}

// BeginExclusive atomically checks the session for in-flight work and tracks
// the operation only when there is none. On refusal it returns the current
// busy count together with ErrSessionBusy. This is the check used by the
// prompt path: checking and beginning under one lock leaves no window for
// two racing prompts to both pass.
func (t *Tracker) BeginExclusive(sessionID, operationID string) (*CancellationToken, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if busy := len(t.ops[sessionID]); busy > 0 {
		return nil, busy, ErrSessionBusy
	}
	return t.beginLocked(sessionID, operationID), 0, nil
}

func (t *Tracker) beginLocked(sessionID, operationID string) *CancellationToken {
	byOp := t.ops[sessionID]
	if byOp == nil {
		byOp = make(map[string]*CancellationToken)
		t.ops[sessionID] = byOp
	}
	if tok, ok := byOp[operationID]; ok {
		return tok
	}
	tok := newCancellationToken()
	byOp[operationID] = tok
	return tok
}

// Complete removes a tracked operation. Completing an unknown operation is a
// no-op so deferred cleanup stays safe after a bulk Cancel already cleared
// the entry.
func (t *Tracker) Complete(sessionID, operationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOp, ok := t.ops[sessionID]
	if !ok {
		return
	}
	delete(byOp, operationID)
	if len(byOp) == 0 {
		delete(t.ops, sessionID)
	}
}

// Cancel fires and clears tracked operations. With explicit operation ids it
// targets those; with none it cancels every operation of the session. It
// reports whether anything was cancelled. Tokens fire outside the tracker
// lock so OnCancel callbacks may re-enter the tracker.
func (t *Tracker) Cancel(sessionID string, operationIDs ...string) bool {
	t.mu.Lock()
	byOp, ok := t.ops[sessionID]
	if !ok || len(byOp) == 0 {
		t.mu.Unlock()
		return false
	}

	var victims []*CancellationToken
	if len(operationIDs) == 0 {
		for _, tok := range byOp {
			victims = append(victims, tok)
		}
		delete(t.ops, sessionID)
	} else {
		for _, opID := range operationIDs {
			if tok, found := byOp[opID]; found {
				victims = append(victims, tok)
				delete(byOp, opID)
			}
		}
		if len(byOp) == 0 {
			delete(t.ops, sessionID)
		}
	}
	t.mu.Unlock()

	for _, tok := range victims {
		tok.cancel()
	}
	return len(victims) > 0
}

// IsBusy reports whether the session has any tracked operation.
func (t *Tracker) IsBusy(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops[sessionID]) > 0
}

// BusyCount returns the number of tracked operations for the session.
func (t *Tracker) BusyCount(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops[sessionID])
}
