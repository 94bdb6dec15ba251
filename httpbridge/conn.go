package httpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/broker"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
)

var errConnectionExpired = errors.New("connection expired")

// bridgeConn pairs one client's agent connection with its broker channel.
type bridgeConn struct {
	id     string
	userID string
	conn   *agent.Connection

	lastSeen atomic.Int64
}

func (c *bridgeConn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *bridgeConn) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// brokerSender publishes agent-originated messages to the connection's broker
// channel, where the client's event stream picks them up.
type brokerSender struct {
	brk     broker.Broker
	channel string
}

var _ agent.Sender = (*brokerSender)(nil)

func (s *brokerSender) Send(ctx context.Context, msg any) error {
	b, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	if _, err := s.brk.Publish(ctx, s.channel, b); err != nil {
		return fmt.Errorf("publish outbound message: %w", err)
	}
	return nil
}

// lookupConn resolves a connection id for the given caller. A foreign
// caller's id resolves to nil so existence is not leaked across users.
func (h *Handler) lookupConn(id, userID string) *bridgeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	bc, ok := h.conns[id]
	if !ok || bc.userID != userID {
		return nil
	}
	return bc
}

// removeConn drops the connection, fails its pending agent calls with cause,
// and retires the broker channel.
func (h *Handler) removeConn(ctx context.Context, bc *bridgeConn, cause error) {
	h.mu.Lock()
	_, ok := h.conns[bc.id]
	delete(h.conns, bc.id)
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := bc.conn.Close(cause); err != nil {
		h.log.WarnContext(ctx, "conn.close.fail", slog.String("conn_id", bc.id), slog.String("err", err.Error()))
	}
	if err := h.broker.Cleanup(ctx, bc.id); err != nil {
		h.log.WarnContext(ctx, "broker.cleanup.fail", slog.String("conn_id", bc.id), slog.String("err", err.Error()))
	}
}

// sweep evicts idle connections and closes everything when ctx ends.
func (h *Handler) sweep(ctx context.Context) {
	interval := h.connTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			// Detach from the canceled ctx so broker cleanup still runs.
			ctx := context.WithoutCancel(ctx)
			for _, bc := range h.snapshotConns() {
				h.removeConn(ctx, bc, cause)
			}
			return
		case <-ticker.C:
			now := time.Now()
			for _, bc := range h.snapshotConns() {
				if bc.idle(now) > h.connTTL {
					h.log.InfoContext(ctx, "conn.expire", slog.String("conn_id", bc.id))
					h.removeConn(ctx, bc, errConnectionExpired)
				}
			}
		}
	}
}

func (h *Handler) snapshotConns() []*bridgeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*bridgeConn, 0, len(h.conns))
	for _, bc := range h.conns {
		out = append(out, bc)
	}
	return out
}
