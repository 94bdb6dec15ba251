package mirror

import (
	"context"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// RedisConfig contains configuration for the Redis stream sink. Defaults can
// be loaded via envdecode.
type RedisConfig struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix is prepended to all stream keys. ENV: MIRROR_KEY_PREFIX
	KeyPrefix string `env:"MIRROR_KEY_PREFIX,default=acp:mirror:"`
	// MaxStreamLen bounds each session's stream with approximate trimming.
	// ENV: MIRROR_MAX_STREAM_LEN
	MaxStreamLen int64 `env:"MIRROR_MAX_STREAM_LEN,default=1024"`
}

// RedisSink mirrors notifications into one Redis stream per session via
// XADD. Streams are trimmed approximately to MaxStreamLen so a chatty
// session cannot grow without bound. Entry ids are Redis stream ids and are
// monotonically increasing per session, which preserves the notification
// order for any consumer reading the stream.
type RedisSink struct {
	client       redis.UniversalClient
	keyPrefix    string
	maxStreamLen int64
}

// NewRedisSink creates a sink on an existing client. A nil client connects
// to cfg.RedisAddr.
func NewRedisSink(client redis.UniversalClient, cfg RedisConfig) *RedisSink {
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "acp:mirror:"
	}
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = 1024
	}
	return &RedisSink{client: client, keyPrefix: prefix, maxStreamLen: maxLen}
}

// NewRedisSinkFromEnv builds a sink using envdecode to populate RedisConfig
// and verifies connectivity.
func NewRedisSinkFromEnv() (*RedisSink, error) {
	var cfg RedisConfig
	_ = envdecode.Decode(&cfg)
	sink := NewRedisSink(nil, cfg)
	if err := sink.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return sink, nil
}

var _ Sink = (*RedisSink)(nil)

func (s *RedisSink) streamKey(sessionID string) string {
	return s.keyPrefix + "stream:" + sessionID
}

// Publish appends the payload to the session's stream.
func (s *RedisSink) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(sessionID),
		MaxLen: s.maxStreamLen,
		Approx: true,
		Values: map[string]any{"d": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.streamKey(sessionID), err)
	}
	return id, nil
}

// Cleanup removes the session's stream. Best effort; unknown sessions are
// not an error.
func (s *RedisSink) Cleanup(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := s.client.Del(c, s.streamKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.streamKey(sessionID), err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error { return s.client.Close() }
