package sessions

import (
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateActive marks a session that accepts prompts.
	StateActive State = "active"
	// StatePaused marks a session whose in-flight work was cancelled; the
	// next accepted prompt flips it back to active.
	StatePaused State = "paused"
	// StateCompleted is terminal.
	StateCompleted State = "completed"
)

// Session is the canonical record of one long-lived conversation bound to a
// workspace. The id is allocated by the engine and never client-supplied.
type Session struct {
	SessionID      string          `json:"sessionId"`
	WorkspaceRef   string          `json:"workspaceRef"`
	Mode           acp.SessionMode `json:"mode"`
	State          State           `json:"state"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActiveAt   time.Time       `json:"lastActiveAt"`
	MessageHistory []acp.Turn      `json:"messageHistory"`
	AgentContext   map[string]any  `json:"agentContext"`
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActiveAt = now
}

// AppendTurn appends one turn to the message history.
func (s *Session) AppendTurn(turn acp.Turn) {
	s.MessageHistory = append(s.MessageHistory, turn)
}

// HistoryTail returns the most recent n turns. It returns the backing slice's
// tail, so callers that hold on to it should copy; n <= 0 means everything.
func (s *Session) HistoryTail(n int) []acp.Turn {
	if n <= 0 || len(s.MessageHistory) <= n {
		return s.MessageHistory
	}
	return s.MessageHistory[len(s.MessageHistory)-n:]
}

// Clone returns a deep copy. History and the context bag are copied so a
// handler mutating its working copy cannot reach the canonical record in the
// registry.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	if s.MessageHistory != nil {
		dup.MessageHistory = make([]acp.Turn, len(s.MessageHistory))
		for i, turn := range s.MessageHistory {
			dup.MessageHistory[i] = turn
			if turn.Content != nil {
				dup.MessageHistory[i].Content = append([]acp.ContentBlock(nil), turn.Content...)
			}
		}
	}
	dup.AgentContext = deepCopyMap(s.AgentContext)
	return &dup
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = deepCopyValue(v)
	}
	return dup
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		dup := make([]any, len(val))
		for i, item := range val {
			dup[i] = deepCopyValue(item)
		}
		return dup
	default:
		return v
	}
}
