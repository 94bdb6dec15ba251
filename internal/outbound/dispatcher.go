// Package outbound coordinates agent-initiated JSON-RPC requests with the
// response traffic the client writes back on the same stream. The stdio loop
// hands every incoming response to OnResponse; Call blocks the requesting
// goroutine on a rendezvous channel until its id is answered, the context is
// cancelled, or the stream shuts down.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
)

// Sender emits one wire message to the connected client. Implementations
// must serialize concurrent sends; the dispatcher does not.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// ErrDispatcherClosed indicates the stream ended before a response arrived.
var ErrDispatcherClosed = errors.New("outbound dispatcher closed")

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher correlates agent-initiated requests (fs proxying, permission
// prompts) with their responses. IDs are allocated from a private counter;
// the client echoes them back and OnResponse routes by the echoed id.
type Dispatcher struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]*pendingCall // id.String() -> call

	nextID uint64

	closed   atomic.Bool
	closeErr error
}

// New constructs a Dispatcher that writes requests through sender.
func New(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender, pending: make(map[string]*pendingCall)}
}

// Call sends a request to the client and blocks until the matching response
// arrives. A wire-level error response is returned as *jsonrpc.Error so
// callers can inspect the code; transport and context failures keep their
// own types.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if d.closed.Load() {
		return nil, d.closeReason()
	}

	id := jsonrpc.NewRequestID(atomic.AddUint64(&d.nextID, 1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closeReason()
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.sender.Send(ctx, req); err != nil {
		d.drop(key)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	select {
	case resp := <-pc.respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.drop(key)
		return nil, ctx.Err()
	}
}

// OnResponse delivers an incoming response to the call waiting on its id.
// Unmatched responses are dropped; the client may still answer a request the
// agent already gave up on.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		return
	}
	key := resp.ID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
}

// Close fails every pending call with err and refuses new ones. The stdio
// loop calls this when the client stream ends so fs and permission calls do
// not block forever.
func (d *Dispatcher) Close(err error) {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func (d *Dispatcher) drop(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

func (d *Dispatcher) closeReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErr != nil {
		return d.closeErr
	}
	return ErrDispatcherClosed
}
