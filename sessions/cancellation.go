package sessions

import (
	"context"
	"sync"
)

// CancellationToken is the cooperative cancellation handle handed to the
// owner of one tracked operation. Collaborators observe it at each streaming
// step; nothing is forcibly terminated through it.
type CancellationToken struct {
	mu        sync.Mutex
	done      chan struct{}
	cancelled bool
	callbacks []func()
}

func newCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// IsCancelled reports whether the token has fired.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token fires, for select-based
// observation.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// OnCancel registers fn to run when the token fires. When the token has
// already fired, fn runs synchronously before OnCancel returns.
func (t *CancellationToken) OnCancel(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Bind derives a context that is cancelled when either the parent or the
// token is cancelled. Callers must call the returned CancelFunc when the
// operation finishes to release the subscription.
func (t *CancellationToken) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t.OnCancel(cancel)
	return ctx, cancel
}

// cancel fires the token exactly once. Callbacks run outside the token lock
// so they may re-enter the tracker.
func (t *CancellationToken) cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
