// Package redisstore implements sessions.Store on Redis so session records
// survive restarts and can be shared by multiple agent instances behind one
// endpoint. Snapshots are JSON blobs under a prefixed key with a TTL;
// optionally each snapshot is wrapped in a compact Ed25519 JWS so a record
// tampered with at rest fails verification on load instead of being trusted.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=acp:sessions:"`
	// SnapshotTTL bounds how long an idle snapshot is retained.
	// ENV: SESSIONS_SNAPSHOT_TTL
	SnapshotTTL time.Duration `env:"SESSIONS_SNAPSHOT_TTL,default=720h"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	signer    SnapshotSigner
}

// StoreOption configures optional store behavior.
type StoreOption func(*Store)

// WithSigner makes the store wrap every snapshot in a compact JWS on save
// and verify it on load.
func WithSigner(signer SnapshotSigner) StoreOption {
	return func(s *Store) {
		s.signer = signer
	}
}

func New(cfg Config, opts ...StoreOption) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "acp:sessions:"
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	store := &Store{client: cl, keyPrefix: prefix, ttl: ttl}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(opts ...StoreOption) (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

var _ sessions.Store = (*Store)(nil)

func (s *Store) snapshotKey(sessionID string) string {
	return s.keyPrefix + "snapshot:" + sessionID
}

// Load implements sessions.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (*sessions.Session, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	if s.signer != nil {
		payload, _, err := s.signer.Verify(string(raw))
		if err != nil {
			return nil, fmt.Errorf("verify snapshot %s: %w", sessionID, err)
		}
		raw = payload
	}

	var sess sessions.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save implements sessions.Store.
func (s *Store) Save(ctx context.Context, sess *sessions.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", sess.SessionID, err)
	}

	if s.signer != nil {
		compact, err := s.signer.Sign(payload)
		if err != nil {
			return fmt.Errorf("sign snapshot %s: %w", sess.SessionID, err)
		}
		payload = []byte(compact)
	}

	// Saves must land even when the caller's request context was cancelled
	// mid-cleanup.
	c := context.WithoutCancel(ctx)
	if err := s.client.Set(c, s.snapshotKey(sess.SessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements sessions.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := s.client.Del(c, s.snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
