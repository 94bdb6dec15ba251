// Package completiontest provides a scripted completion.Engine for tests.
// Handlers under test run real prompt turns against it while tests assert
// the requests it received and script the events it emits.
package completiontest

import (
	"context"
	"sync"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
)

// RunFunc is the scripted behavior of one prompt turn.
type RunFunc func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error)

// Engine records every request it runs and delegates behavior to a RunFunc.
type Engine struct {
	mu    sync.Mutex
	calls []completion.Request

	run RunFunc
}

// New builds an engine with the given behavior. A nil fn behaves like
// Echo("ok").
func New(fn RunFunc) *Engine {
	if fn == nil {
		fn = Echo("ok")
	}
	return &Engine{run: fn}
}

var _ completion.Engine = (*Engine)(nil)

func (e *Engine) Run(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, *req)
	e.mu.Unlock()
	return e.run(ctx, req, events, tok)
}

// Calls returns copies of every request received so far.
func (e *Engine) Calls() []completion.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]completion.Request(nil), e.calls...)
}

// LastCall returns the most recent request, or false when none ran.
func (e *Engine) LastCall() (completion.Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return completion.Request{}, false
	}
	return e.calls[len(e.calls)-1], true
}

// Echo returns a behavior that streams text as a single message chunk and
// finishes with an end_turn result.
func Echo(text string) RunFunc {
	return func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		events.MessageDelta(ctx, text)
		return &completion.Result{
			StopReason: acp.StopReasonEndTurn,
			Usage:      completion.Usage{InputTokens: 3, OutputTokens: 7},
		}, nil
	}
}

// Blocking returns a behavior that closes started once running, then holds
// the turn open until the token fires and resolves with a cancelled result.
func Blocking(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		close(started)
		select {
		case <-tok.Done():
			return &completion.Result{StopReason: acp.StopReasonCancelled}, nil
		case <-ctx.Done():
			return &completion.Result{StopReason: acp.StopReasonCancelled}, nil
		}
	}
}

// Failing returns a behavior that fails the turn with err.
func Failing(err error) RunFunc {
	return func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		return nil, err
	}
}
