// Package redis implements broker.Broker on Redis Streams. Channels map to
// streams, envelope ids are the Redis stream entry ids, and XREAD drives
// delivery, so multiple bridge instances can serve consumers of the same
// connection.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DefikitTeam/claude-code-container-sub003/broker"
)

const defaultKeyPrefix = "ccagent:broker:"

// Broker publishes bridge traffic to Redis Streams.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	blockFor  time.Duration
	maxLen    int64
}

// Config carries construction options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. A default localhost client is
	// created when nil.
	Client redis.UniversalClient
	// KeyPrefix namespaces every stream key. Defaults to "ccagent:broker:".
	KeyPrefix string
	// MaxStreamLen caps each stream via approximate XADD MAXLEN trimming.
	// Zero keeps streams unbounded until Cleanup.
	MaxStreamLen int64
}

// New creates a Redis-backed broker.
func New(cfg Config) *Broker {
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Broker{
		client:    client,
		keyPrefix: prefix,
		blockFor:  time.Second,
		maxLen:    cfg.MaxStreamLen,
	}
}

var _ broker.Broker = (*Broker)(nil)

// Close releases the underlying Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: b.streamKey(channel),
		Values: map[string]any{"data": payload},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return id, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, channel string, lastEventID string) (broker.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := b.streamKey(channel)

	// XREAD's "$" cursor only covers entries added while a read is blocked,
	// so publishes between two reads would be lost. Pinning the cursor to
	// the stream's current tail keeps delivery gapless from this moment on.
	// A caller-supplied id resumes strictly after it; ids Redis has already
	// trimmed simply yield whatever remains.
	cursor := lastEventID
	if cursor == "" {
		tail, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("xrevrange %s: %w", key, err)
		}
		if len(tail) > 0 {
			cursor = tail[0].ID
		} else {
			cursor = "0"
		}
	}
	return &stream{
		broker: b,
		key:    key,
		cursor: cursor,
	}, nil
}

// Cleanup implements broker.Broker.
func (b *Broker) Cleanup(ctx context.Context, channel string) error {
	if err := b.client.Del(ctx, b.streamKey(channel)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cleanup channel %s: %w", channel, err)
	}
	return nil
}

func (b *Broker) streamKey(channel string) string {
	return b.keyPrefix + "stream:" + channel
}

// stream iterates a Redis stream with a moving cursor. Entries fetched in a
// batch are buffered in pending so a single XREAD can satisfy several Next
// calls.
type stream struct {
	broker  *Broker
	key     string
	cursor  string
	pending []broker.Envelope
	closed  atomic.Bool
}

var _ broker.Stream = (*stream)(nil)

// Next implements broker.Stream.
func (s *stream) Next(ctx context.Context) (broker.Envelope, error) {
	for {
		if s.closed.Load() {
			return broker.Envelope{}, io.EOF
		}
		if len(s.pending) > 0 {
			env := s.pending[0]
			s.pending = s.pending[1:]
			s.cursor = env.ID
			return env, nil
		}
		if err := ctx.Err(); err != nil {
			return broker.Envelope{}, err
		}

		res, err := s.broker.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.key, s.cursor},
			Count:   16,
			Block:   s.broker.blockFor,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return broker.Envelope{}, ctx.Err()
			}
			return broker.Envelope{}, fmt.Errorf("xread %s: %w", s.key, err)
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					s.cursor = msg.ID
					continue
				}
				s.pending = append(s.pending, broker.Envelope{ID: msg.ID, Data: []byte(data)})
			}
		}
	}
}

// Close implements broker.Stream.
func (s *stream) Close() error {
	s.closed.Store(true)
	return nil
}
