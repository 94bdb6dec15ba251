package mirror

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestNopSink(t *testing.T) {
	id, err := NopSink{}.Publish(context.Background(), "s1", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Fatalf("nop sink produced an id: %q", id)
	}
}

func TestLogSinkWritesPayload(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	if _, err := sink.Publish(context.Background(), "s1", []byte(`{"sessionId":"s1","seq":1}`)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("mirror.publish")) {
		t.Fatalf("missing event name in log output: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("session_id=s1")) {
		t.Fatalf("missing session id in log output: %s", out)
	}
}

func TestRedisSinkPreservesOrder(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	sink := NewRedisSink(client, RedisConfig{KeyPrefix: "test:mirror:"})
	defer sink.Close()
	ctx := context.Background()
	defer sink.Cleanup(ctx, "order-test")

	payloads := []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}
	var lastID string
	for _, p := range payloads {
		id, err := sink.Publish(ctx, "order-test", []byte(p))
		if err != nil {
			t.Fatal(err)
		}
		if id <= lastID {
			t.Fatalf("stream ids not increasing: %q after %q", id, lastID)
		}
		lastID = id
	}

	entries, err := client.XRange(ctx, "test:mirror:stream:order-test", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(payloads) {
		t.Fatalf("expected %d entries, got %d", len(payloads), len(entries))
	}
	for i, entry := range entries {
		if got := entry.Values["d"]; got != payloads[i] {
			t.Fatalf("entry %d mismatch: %v", i, got)
		}
	}
}
