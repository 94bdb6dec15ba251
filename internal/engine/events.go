package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
)

// promptEvents forwards backend progress to the client as session/update
// notifications while accumulating the assistant's visible text, which
// becomes the assistant turn appended to history once the run finishes.
type promptEvents struct {
	emitter   *Emitter
	sessionID string

	mu   sync.Mutex
	text strings.Builder
}

var _ completion.Events = (*promptEvents)(nil)

func newPromptEvents(emitter *Emitter, sessionID string) *promptEvents {
	return &promptEvents{emitter: emitter, sessionID: sessionID}
}

func (p *promptEvents) MessageDelta(ctx context.Context, text string) {
	p.mu.Lock()
	p.text.WriteString(text)
	p.mu.Unlock()
	_ = p.emitter.AgentMessageChunk(ctx, p.sessionID, text)
}

func (p *promptEvents) ThoughtDelta(ctx context.Context, text string) {
	_ = p.emitter.AgentThoughtChunk(ctx, p.sessionID, text)
}

func (p *promptEvents) ToolCall(ctx context.Context, toolCallID, title string, rawInput json.RawMessage) {
	_ = p.emitter.ToolCall(ctx, p.sessionID, toolCallID, title, rawInput)
}

func (p *promptEvents) ToolCallUpdate(ctx context.Context, toolCallID string, status acp.ToolCallStatus, rawOutput json.RawMessage) {
	_ = p.emitter.ToolCallUpdate(ctx, p.sessionID, toolCallID, status, rawOutput)
}

func (p *promptEvents) Plan(ctx context.Context, entries []acp.PlanEntry) {
	_ = p.emitter.Plan(ctx, p.sessionID, entries)
}

// Text returns the accumulated assistant reply.
func (p *promptEvents) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text.String()
}
