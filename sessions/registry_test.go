package sessions

import (
	"testing"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
)

func newTestSession(id string) *Session {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		SessionID:    id,
		WorkspaceRef: "/work/" + id,
		Mode:         acp.SessionModeDevelopment,
		State:        StateActive,
		CreatedAt:    now,
		LastActiveAt: now,
		MessageHistory: []acp.Turn{
			{Role: acp.RoleUser, Content: []acp.ContentBlock{acp.NewTextBlock("hello")}, At: now},
		},
		AgentContext: map[string]any{
			"automation": map[string]any{"branch": "main"},
			"labels":     []any{"a", "b"},
		},
	}
}

func TestRegistryGetReturnsIsolatedCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Set("s1", newTestSession("s1"))

	got, ok := reg.Get("s1")
	if !ok {
		t.Fatal("expected session s1")
	}

	// Mutating the copy must not leak into the canonical record.
	got.State = StateCompleted
	got.MessageHistory[0].Content[0].Text = "tampered"
	got.AgentContext["automation"].(map[string]any)["branch"] = "tampered"

	canonical, _ := reg.Get("s1")
	if canonical.State != StateActive {
		t.Fatalf("state leaked through copy: %s", canonical.State)
	}
	if text := canonical.MessageHistory[0].Content[0].Text; text != "hello" {
		t.Fatalf("history leaked through copy: %q", text)
	}
	if branch := canonical.AgentContext["automation"].(map[string]any)["branch"]; branch != "main" {
		t.Fatalf("context leaked through copy: %v", branch)
	}
}

func TestRegistrySetStoresCopy(t *testing.T) {
	reg := NewRegistry()
	sess := newTestSession("s1")
	reg.Set("s1", sess)

	sess.State = StateCompleted

	canonical, _ := reg.Get("s1")
	if canonical.State != StateActive {
		t.Fatalf("caller retained a handle into the registry: %s", canonical.State)
	}
}

func TestRegistryLifecycleOperations(t *testing.T) {
	reg := NewRegistry()
	if reg.Count() != 0 {
		t.Fatalf("fresh registry not empty: %d", reg.Count())
	}

	reg.Set("a", newTestSession("a"))
	reg.Set("b", newTestSession("b"))
	if reg.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", reg.Count())
	}
	if got := len(reg.All()); got != 2 {
		t.Fatalf("All returned %d sessions", got)
	}

	reg.Delete("a")
	if _, ok := reg.Get("a"); ok {
		t.Fatal("deleted session still present")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected 1 session after delete, got %d", reg.Count())
	}

	// Deleting an unknown id is a no-op.
	reg.Delete("nope")
}

func TestRegistryUpdateMutatesCanonicalRecord(t *testing.T) {
	reg := NewRegistry()
	reg.Set("s1", newTestSession("s1"))

	later := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	ok := reg.Update("s1", func(s *Session) {
		s.State = StatePaused
		s.Touch(later)
	})
	if !ok {
		t.Fatal("update of known session reported unknown")
	}

	got, _ := reg.Get("s1")
	if got.State != StatePaused || !got.LastActiveAt.Equal(later) {
		t.Fatalf("update not applied: state=%s lastActiveAt=%s", got.State, got.LastActiveAt)
	}

	if reg.Update("nope", func(s *Session) {}) {
		t.Fatal("update of unknown session reported ok")
	}
}

func TestSessionHistoryTail(t *testing.T) {
	sess := &Session{}
	for i := 0; i < 5; i++ {
		sess.AppendTurn(acp.Turn{Role: acp.RoleUser, Content: []acp.ContentBlock{acp.NewTextBlock("t")}})
	}

	if got := len(sess.HistoryTail(3)); got != 3 {
		t.Fatalf("tail(3) returned %d turns", got)
	}
	if got := len(sess.HistoryTail(0)); got != 5 {
		t.Fatalf("tail(0) must return everything, got %d", got)
	}
	if got := len(sess.HistoryTail(10)); got != 5 {
		t.Fatalf("tail larger than history must return everything, got %d", got)
	}
}
