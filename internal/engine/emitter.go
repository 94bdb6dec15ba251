package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/observability"
	"github.com/DefikitTeam/claude-code-container-sub003/mirror"
)

// Sender emits one wire message toward the connected client. The stdio
// LineWriter and the bridge's SSE hub both satisfy it.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Emitter publishes session/update notifications. Sequence numbers are
// per-session, start at 1, and are assigned under the emitter lock at send
// time, so the wire order of a session's updates always matches its sequence
// numbers even when producers emit concurrently. Counters survive for the
// process lifetime; they are never reset, not even when a session is
// deleted.
type Emitter struct {
	sender  Sender
	sink    mirror.Sink
	metrics *observability.Metrics
	log     *slog.Logger
	clock   func() time.Time

	mu   sync.Mutex
	seqs map[string]uint64
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithMirrorSink mirrors every notification to sink after the transport
// write. Publishing is fire-and-forget; sink failures never reach the
// emitting caller.
func WithMirrorSink(sink mirror.Sink) EmitterOption {
	return func(em *Emitter) {
		if sink != nil {
			em.sink = sink
		}
	}
}

// WithEmitterLogger sets the logger.
func WithEmitterLogger(log *slog.Logger) EmitterOption {
	return func(em *Emitter) {
		if log != nil {
			em.log = log
		}
	}
}

// WithEmitterMetrics records notification counts on m.
func WithEmitterMetrics(m *observability.Metrics) EmitterOption {
	return func(em *Emitter) {
		em.metrics = m
	}
}

// WithEmitterClock overrides the timestamp source.
func WithEmitterClock(clock func() time.Time) EmitterOption {
	return func(em *Emitter) {
		if clock != nil {
			em.clock = clock
		}
	}
}

// NewEmitter constructs an Emitter writing through sender.
func NewEmitter(sender Sender, opts ...EmitterOption) *Emitter {
	em := &Emitter{
		sender: sender,
		sink:   mirror.NopSink{},
		log:    slog.Default(),
		clock:  time.Now,
		seqs:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(em)
	}
	return em
}

// Send stamps and publishes one notification. A notification without a
// session id is logged and dropped; every update in the session/update
// family addresses exactly one session.
func (em *Emitter) Send(ctx context.Context, note acp.SessionNotification) error {
	if note.SessionID == "" {
		em.log.WarnContext(ctx, "emitter.update.missing_session_id",
			slog.String("kind", string(note.Update.Kind)))
		return nil
	}

	em.mu.Lock()
	seq := em.seqs[note.SessionID] + 1
	em.seqs[note.SessionID] = seq
	note.SequenceNumber = seq
	if note.Timestamp.IsZero() {
		note.Timestamp = em.clock().UTC()
	}

	wire, err := jsonrpc.NewNotification(string(acp.SessionUpdateNotificationMethod), note)
	if err != nil {
		em.mu.Unlock()
		em.log.ErrorContext(ctx, "emitter.update.encode_fail", slog.String("err", err.Error()))
		return err
	}
	sendErr := em.sender.Send(ctx, wire)
	em.mu.Unlock()

	em.metrics.RecordNotification(string(note.Update.Kind))
	em.mirror(ctx, note)

	if sendErr != nil {
		em.log.WarnContext(ctx, "emitter.update.send_fail",
			slog.String("session_id", note.SessionID),
			slog.Uint64("seq", seq),
			slog.String("err", sendErr.Error()))
		return sendErr
	}
	return nil
}

// mirror forwards the stamped notification to the sink in a detached
// goroutine. The transport write has already happened; nothing that goes
// wrong here may surface to the caller.
func (em *Emitter) mirror(ctx context.Context, note acp.SessionNotification) {
	if _, ok := em.sink.(mirror.NopSink); ok {
		return
	}
	payload, err := json.Marshal(note)
	if err != nil {
		em.log.ErrorContext(ctx, "emitter.mirror.encode_fail", slog.String("err", err.Error()))
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				em.metrics.RecordMirrorError()
				em.log.Error("emitter.mirror.panic", slog.Any("panic", r))
			}
		}()
		if _, err := em.sink.Publish(bg, note.SessionID, payload); err != nil {
			em.metrics.RecordMirrorError()
			em.log.Warn("emitter.mirror.publish_fail",
				slog.String("session_id", note.SessionID),
				slog.String("err", err.Error()))
		}
	}()
}

// AgentMessageChunk publishes a streamed piece of assistant output.
func (em *Emitter) AgentMessageChunk(ctx context.Context, sessionID, text string) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.AgentMessageChunk(text)})
}

// AgentThoughtChunk publishes a streamed piece of assistant reasoning.
func (em *Emitter) AgentThoughtChunk(ctx context.Context, sessionID, text string) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.AgentThoughtChunk(text)})
}

// UserMessageChunk publishes a replayed user turn.
func (em *Emitter) UserMessageChunk(ctx context.Context, sessionID, text string) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.UserMessageChunk(text)})
}

// ToolCall announces a new tool invocation in pending state.
func (em *Emitter) ToolCall(ctx context.Context, sessionID, toolCallID, title string, rawInput json.RawMessage) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.SessionUpdate{
		Kind:       acp.UpdateKindToolCall,
		ToolCallID: toolCallID,
		Title:      title,
		Status:     acp.ToolCallStatusPending,
		RawInput:   rawInput,
	}})
}

// ToolCallUpdate publishes a tool call status transition.
func (em *Emitter) ToolCallUpdate(ctx context.Context, sessionID, toolCallID string, status acp.ToolCallStatus, rawOutput json.RawMessage) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.SessionUpdate{
		Kind:       acp.UpdateKindToolCallUpdate,
		ToolCallID: toolCallID,
		Status:     status,
		RawOutput:  rawOutput,
	}})
}

// Plan publishes the agent's current execution plan.
func (em *Emitter) Plan(ctx context.Context, sessionID string, entries []acp.PlanEntry) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.SessionUpdate{
		Kind:    acp.UpdateKindPlan,
		Entries: entries,
	}})
}

// AvailableCommands advertises the commands a session currently accepts.
func (em *Emitter) AvailableCommands(ctx context.Context, sessionID string, cmds []acp.AvailableCommand) error {
	return em.Send(ctx, acp.SessionNotification{SessionID: sessionID, Update: acp.SessionUpdate{
		Kind:              acp.UpdateKindAvailableCommandsUpdate,
		AvailableCommands: cmds,
	}})
}
