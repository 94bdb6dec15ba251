// Package memory implements broker.Broker with in-process channels. Suited
// to single-instance deployments and tests; nothing survives a restart and
// other instances cannot see the channels.
package memory

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/DefikitTeam/claude-code-container-sub003/broker"
)

const subscriberBuffer = 128

// Broker keeps every channel's envelopes in memory and fans publishes out to
// live subscribers. Event ids are process-wide counters, so they stay
// monotonic across channels too.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*channel
	eventSeq atomic.Int64
}

type channel struct {
	mu       sync.Mutex
	backlog  []broker.Envelope
	streams  map[*stream]struct{}
	retired  bool
}

type stream struct {
	ch     *channel
	buf    chan broker.Envelope
	cancel context.CancelFunc
	ctx    context.Context
	closed atomic.Bool
}

// New returns an empty in-memory broker.
func New() *Broker {
	return &Broker{channels: make(map[string]*channel)}
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ broker.Stream = (*stream)(nil)
)

func (b *Broker) channelFor(name string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.channels[name]
	if !ok {
		c = &channel{streams: make(map[*stream]struct{})}
		b.channels[name] = c
	}
	return c
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, channelName string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	env := broker.Envelope{
		ID:   strconv.FormatInt(b.eventSeq.Add(1), 10),
		Data: append([]byte(nil), payload...),
	}

	c := b.channelFor(channelName)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return "", fmt.Errorf("channel %q has been cleaned up", channelName)
	}
	c.backlog = append(c.backlog, env)

	for s := range c.streams {
		select {
		case s.buf <- env:
		case <-s.ctx.Done():
			delete(c.streams, s)
		default:
			// Slow consumer; it can resume from its last delivered id.
			delete(c.streams, s)
			s.cancel()
		}
	}
	return env.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, channelName string, lastEventID string) (broker.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := b.channelFor(channelName)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return nil, fmt.Errorf("channel %q has been cleaned up", channelName)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &stream{
		ch:     c,
		buf:    make(chan broker.Envelope, subscriberBuffer),
		ctx:    sctx,
		cancel: cancel,
	}
	c.streams[s] = struct{}{}

	if lastEventID != "" {
		// Replay everything after the given id. An unknown id replays
		// nothing; the consumer just picks up live traffic.
		from := -1
		for i, env := range c.backlog {
			if env.ID == lastEventID {
				from = i + 1
				break
			}
		}
		if from >= 0 {
			for _, env := range c.backlog[from:] {
				select {
				case s.buf <- env:
				default:
					cancel()
					delete(c.streams, s)
					return nil, fmt.Errorf("replay backlog exceeds stream buffer (%d)", subscriberBuffer)
				}
			}
		}
	}
	return s, nil
}

// Cleanup implements broker.Broker.
func (b *Broker) Cleanup(ctx context.Context, channelName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	c, ok := b.channels[channelName]
	if ok {
		delete(b.channels, channelName)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
	for s := range c.streams {
		s.cancel()
	}
	c.streams = make(map[*stream]struct{})
	c.backlog = nil
	return nil
}

// Next implements broker.Stream.
func (s *stream) Next(ctx context.Context) (broker.Envelope, error) {
	if s.closed.Load() {
		return broker.Envelope{}, io.EOF
	}
	select {
	case env := <-s.buf:
		return env, nil
	case <-ctx.Done():
		return broker.Envelope{}, ctx.Err()
	case <-s.ctx.Done():
		// Drain anything buffered before reporting the end of the stream.
		select {
		case env := <-s.buf:
			return env, nil
		default:
			return broker.Envelope{}, io.EOF
		}
	}
}

// Close implements broker.Stream.
func (s *stream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.ch.mu.Lock()
		delete(s.ch.streams, s)
		s.ch.mu.Unlock()
		s.cancel()
	}
	return nil
}
