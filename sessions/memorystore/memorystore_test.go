package memorystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
)

func snapshot(id string, lastActive time.Time) *sessions.Session {
	return &sessions.Session{
		SessionID:    id,
		WorkspaceRef: "/work",
		Mode:         acp.SessionModeDevelopment,
		State:        sessions.StateActive,
		CreatedAt:    lastActive,
		LastActiveAt: lastActive,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(WithTTL(0))
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess := snapshot("s1", time.Now())
	sess.AgentContext = map[string]any{"model": "fast"}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Mutations after save must not reach the stored snapshot.
	sess.AgentContext["model"] = "tampered"

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentContext["model"] != "fast" {
		t.Fatalf("stored snapshot shares state with caller: %v", got.AgentContext["model"])
	}

	// Mutations of a loaded snapshot must not reach the store either.
	got.State = sessions.StateCompleted
	again, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if again.State != sessions.StateActive {
		t.Fatalf("loaded snapshot shares state with store: %s", again.State)
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(WithTTL(0))
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, snapshot("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("deleted snapshot still loads: %v", err)
	}

	// Unknown ids are not an error.
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
}

func TestSweepExpiresIdleSnapshots(t *testing.T) {
	store := NewStore(WithTTL(time.Hour))
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	if err := store.Save(ctx, snapshot("stale", now.Add(-2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, snapshot("fresh", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}

	store.performSweep(now)

	if _, err := store.Load(ctx, "stale"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("stale snapshot survived sweep: %v", err)
	}
	if _, err := store.Load(ctx, "fresh"); err != nil {
		t.Fatalf("fresh snapshot swept: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := NewStore()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}
