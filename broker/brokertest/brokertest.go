// Package brokertest holds a conformance suite run against every
// broker.Broker implementation.
package brokertest

import (
	"context"
	"testing"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/broker"
)

// Factory creates a fresh broker for one suite run.
type Factory func(t *testing.T) broker.Broker

// Run exercises the Broker contract against the factory's implementation.
func Run(t *testing.T, factory Factory) {
	t.Run("DeliversLivePublishes", func(t *testing.T) { testLiveDelivery(t, factory) })
	t.Run("ResumesAfterLastEventID", func(t *testing.T) { testResume(t, factory) })
	t.Run("FansOutToAllStreams", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("IsolatesChannels", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("NextHonorsContext", func(t *testing.T) { testNextContext(t, factory) })
	t.Run("CleanupAllowsFreshSubscribers", func(t *testing.T) { testCleanupRestart(t, factory) })
}

func next(t *testing.T, s broker.Stream, timeout time.Duration) broker.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	env, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return env
}

func testLiveDelivery(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	ch := t.Name()

	s, err := b.Subscribe(ctx, ch, "")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()
	defer b.Cleanup(ctx, ch)

	id, err := b.Publish(ctx, ch, []byte(`{"jsonrpc":"2.0","method":"session/update"}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("empty event id")
	}

	env := next(t, s, 5*time.Second)
	if env.ID != id {
		t.Fatalf("envelope id = %q, want %q", env.ID, id)
	}
	if string(env.Data) != `{"jsonrpc":"2.0","method":"session/update"}` {
		t.Fatalf("unexpected payload: %s", env.Data)
	}
}

func testResume(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	ch := t.Name()
	defer b.Cleanup(ctx, ch)

	first, err := b.Publish(ctx, ch, []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("Publish first: %v", err)
	}
	second, err := b.Publish(ctx, ch, []byte(`{"n":2}`))
	if err != nil {
		t.Fatalf("Publish second: %v", err)
	}

	s, err := b.Subscribe(ctx, ch, first)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	env := next(t, s, 5*time.Second)
	if env.ID != second {
		t.Fatalf("resumed at %q, want %q", env.ID, second)
	}
	if string(env.Data) != `{"n":2}` {
		t.Fatalf("unexpected payload: %s", env.Data)
	}
}

func testFanOut(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	ch := t.Name()
	defer b.Cleanup(ctx, ch)

	s1, err := b.Subscribe(ctx, ch, "")
	if err != nil {
		t.Fatalf("Subscribe s1: %v", err)
	}
	defer s1.Close()
	s2, err := b.Subscribe(ctx, ch, "")
	if err != nil {
		t.Fatalf("Subscribe s2: %v", err)
	}
	defer s2.Close()

	id, err := b.Publish(ctx, ch, []byte(`{"fan":"out"}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, s := range []broker.Stream{s1, s2} {
		env := next(t, s, 5*time.Second)
		if env.ID != id {
			t.Fatalf("stream %d saw id %q, want %q", i+1, env.ID, id)
		}
	}
}

func testIsolation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	chA := t.Name() + "-a"
	chB := t.Name() + "-b"
	defer b.Cleanup(ctx, chA)
	defer b.Cleanup(ctx, chB)

	sA, err := b.Subscribe(ctx, chA, "")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	defer sA.Close()
	sB, err := b.Subscribe(ctx, chB, "")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	defer sB.Close()

	if _, err := b.Publish(ctx, chA, []byte(`"for-a"`)); err != nil {
		t.Fatalf("Publish a: %v", err)
	}
	if _, err := b.Publish(ctx, chB, []byte(`"for-b"`)); err != nil {
		t.Fatalf("Publish b: %v", err)
	}

	if got := string(next(t, sA, 5*time.Second).Data); got != `"for-a"` {
		t.Fatalf("channel a delivered %s", got)
	}
	if got := string(next(t, sB, 5*time.Second).Data); got != `"for-b"` {
		t.Fatalf("channel b delivered %s", got)
	}
}

func testNextContext(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	ch := t.Name()
	defer b.Cleanup(ctx, ch)

	s, err := b.Subscribe(ctx, ch, "")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := s.Next(short); err != context.DeadlineExceeded {
		t.Fatalf("Next on idle channel = %v, want DeadlineExceeded", err)
	}
}

func testCleanupRestart(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	ch := t.Name()

	staleID, err := b.Publish(ctx, ch, []byte(`"old"`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Cleanup(ctx, ch); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	// A consumer resuming from a discarded id must still see new traffic.
	s, err := b.Subscribe(ctx, ch, staleID)
	if err != nil {
		t.Fatalf("Subscribe after cleanup: %v", err)
	}
	defer s.Close()
	defer b.Cleanup(ctx, ch)

	// Redis reuses millisecond-granularity entry ids after a DEL; step past
	// the stale id's millisecond so the fresh publish sorts after it.
	time.Sleep(2 * time.Millisecond)

	if _, err := b.Publish(ctx, ch, []byte(`"fresh"`)); err != nil {
		t.Fatalf("Publish after cleanup: %v", err)
	}
	if got := string(next(t, s, 5*time.Second).Data); got != `"fresh"` {
		t.Fatalf("post-cleanup delivery = %s", got)
	}
}
