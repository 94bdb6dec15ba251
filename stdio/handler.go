package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/framing"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
)

const defaultDrainTimeout = 5 * time.Second

// Handler is a single-connection stdio transport that reads newline-delimited
// JSON-RPC messages from an io.Reader and writes outbound traffic to an
// io.Writer. By default it uses os.Stdin and os.Stdout.
//
// The handler is transport-only; all protocol semantics live in the agent it
// wraps. Each inbound line is dispatched on its own goroutine so a long
// session/prompt turn never blocks session/cancel arriving behind it.
type Handler struct {
	agent        *agent.Agent
	r            io.Reader
	w            io.Writer
	log          *slog.Logger
	drainTimeout time.Duration

	served atomic.Bool
}

// NewHandler constructs a stdio Handler for the given agent with defaults and
// applies options.
func NewHandler(a *agent.Agent, opts ...Option) *Handler {
	h := &Handler{
		agent:        a,
		r:            os.Stdin,
		w:            os.Stdout,
		log:          a.Logger(),
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
//
// Responses, session/update notifications and agent-to-client requests all
// share the writer; framing.LineWriter serializes them so concurrent turns
// cannot interleave partial lines.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return errors.New("stdio: Serve called twice")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := framing.NewLineWriter(h.w)
	conn := h.agent.Connect(&lineSender{w: writer})

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		reader := framing.NewLineReader(h.r)
		for {
			line, err := reader.Next()
			if err != nil {
				readErr <- err
				return
			}
			buf := make([]byte, len(line))
			copy(buf, line)
			select {
			case lines <- buf:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	var loopErr error

loop:
	for {
		select {
		case <-ctx.Done():
			loopErr = ctx.Err()
			break loop
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				loopErr = fmt.Errorf("read stdin: %w", err)
			}
			break loop
		case line := <-lines:
			wg.Add(1)
			go func() {
				defer wg.Done()
				out := conn.HandleMessage(ctx, line)
				if out == nil {
					return
				}
				if err := writer.WriteLine(out); err != nil {
					h.log.Warn("stdio.write.fail", slog.String("err", err.Error()))
				}
			}()
		}
	}

	// Give in-flight handlers a bounded window to finish before tearing the
	// connection down. Updates they emit after Close would be lost anyway.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(h.drainTimeout):
		h.log.Warn("stdio.drain.timeout", slog.Duration("timeout", h.drainTimeout))
	}

	cancel()
	conn.Close(loopErr)
	return loopErr
}

// lineSender adapts a framing.LineWriter to the agent.Sender contract so the
// connection's notifications and outbound requests share stdout with
// responses.
type lineSender struct {
	w *framing.LineWriter
}

func (s *lineSender) Send(ctx context.Context, msg any) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	return s.w.WriteLine(data)
}
