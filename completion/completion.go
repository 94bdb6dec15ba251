// Package completion defines the boundary between session orchestration and
// the model backend that actually produces assistant turns. The engine hands
// a backend the prompt, the merged per-session context and a cancellation
// token; the backend streams progress through the Events callbacks and
// returns a terminal Result. Backends live in subpackages (anthropic,
// openai) plus a scripted one for tests.
package completion

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
)

// ErrAuthRequired marks backend failures caused by missing or rejected
// credentials. Callers match it with errors.Is and map it to the
// auth-required wire error instead of a generic internal error.
var ErrAuthRequired = errors.New("authentication required")

// Request carries everything a backend needs for one prompt turn.
type Request struct {
	// SessionID identifies the conversation, for logging and tool routing.
	SessionID string
	// Prompt is the user's new turn.
	Prompt []acp.ContentBlock
	// History holds the prior turns of the conversation, oldest first. The
	// prompt is not included.
	History []acp.Turn
	// Context is the merged per-session context bag (model hints, automation
	// settings, arbitrary client state).
	Context map[string]any
	// Mode selects the tool surface: development exposes the full tool set,
	// conversation runs tool-free.
	Mode acp.SessionMode
	// WorkspaceRoot is the absolute path tools operate under. Empty when the
	// workspace could not be described.
	WorkspaceRoot string
	// Tools is the session's tool surface, including any MCP tools connected
	// at session creation. When nil the backend falls back to the registry it
	// was constructed with.
	Tools *tools.Registry
	// Credentials authenticate against the backend.
	Credentials credentials.Credentials
}

// Events receives streamed progress while a turn runs. Implementations
// forward to the client as session/update notifications; delivery is best
// effort, so the callbacks do not return errors and must not block on slow
// consumers longer than the transport itself does.
type Events interface {
	// MessageDelta streams a chunk of the assistant's visible reply.
	MessageDelta(ctx context.Context, text string)
	// ThoughtDelta streams a chunk of the assistant's reasoning.
	ThoughtDelta(ctx context.Context, text string)
	// ToolCall announces a tool invocation the model requested.
	ToolCall(ctx context.Context, toolCallID, title string, rawInput json.RawMessage)
	// ToolCallUpdate reports progress or completion of a tool invocation.
	ToolCallUpdate(ctx context.Context, toolCallID string, status acp.ToolCallStatus, rawOutput json.RawMessage)
	// Plan publishes the model's current task plan.
	Plan(ctx context.Context, entries []acp.PlanEntry)
}

// Usage totals the token spend of one turn.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Add accumulates another turn's worth of usage, for backends that loop over
// multiple model calls while resolving tool use.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Result terminates a turn. A cancelled turn is still a normal Result with
// StopReasonCancelled, not an error.
type Result struct {
	StopReason acp.StopReason
	Usage      Usage
}

// Engine runs one prompt turn against a model backend. Run watches tok and
// winds down promptly once it fires, returning a StopReasonCancelled Result.
// Run returns an error only when the turn failed to produce a result at all.
type Engine interface {
	Run(ctx context.Context, req *Request, events Events, tok *sessions.CancellationToken) (*Result, error)
}
