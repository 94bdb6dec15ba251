// Package mirror fans session notifications out to an external sink so
// observers (dashboards, audit pipelines, other agent instances) can follow
// a conversation without holding the client connection. Mirroring is
// fire-and-forget: the primary transport write has already happened by the
// time a sink sees the payload, and sink failures never reach the client.
package mirror

import (
	"context"
	"log/slog"
)

// Sink receives a copy of every session notification after it was written to
// the client. Data is the JSON-encoded notification payload. The returned id
// identifies the mirrored entry where the sink supports it.
type Sink interface {
	Publish(ctx context.Context, sessionID string, data []byte) (id string, err error)
}

// NopSink discards everything. It is the default when no mirror is
// configured.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	return "", nil
}

var _ Sink = NopSink{}

// LogSink writes each mirrored notification to a slog logger at debug level.
// Useful in development to watch the update stream without a Redis.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	s.log.DebugContext(ctx, "mirror.publish",
		slog.String("session_id", sessionID),
		slog.Int("bytes", len(data)),
		slog.String("payload", string(data)),
	)
	return "", nil
}

var _ Sink = (*LogSink)(nil)
