package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/internal/dispatch"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/engine"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/logctx"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/observability"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/outbound"
)

// Sender delivers one agent-originated wire message to the connected client:
// session/update notifications and agent-to-client requests. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Connection is an Agent bound to one client connection. Transports feed
// inbound wire bytes to HandleMessage and deliver whatever the Sender
// receives; everything else, including responses to the agent's own requests
// toward the client, is routed internally.
type Connection struct {
	log     *slog.Logger
	mux     *dispatch.Mux
	out     *outbound.Dispatcher
	eng     *engine.Engine
	metrics *observability.Metrics
}

// Connect binds the agent to a connection. The sender carries every message
// the agent originates; the returned Connection handles everything the client
// sends. Call Close when the connection ends.
func (a *Agent) Connect(sender Sender) *Connection {
	out := outbound.New(sender)
	client := outbound.NewClient(out)

	emitter := engine.NewEmitter(sender,
		engine.WithEmitterLogger(a.log),
		engine.WithEmitterMetrics(a.metrics),
		engine.WithMirrorSink(a.sink),
	)

	opts := append(a.engineOptions(),
		engine.WithClientFS(client),
		engine.WithPermissionRequester(client),
	)
	eng := engine.New(a.backend, emitter, opts...)

	mux := dispatch.NewMux(a.log)
	eng.RegisterMethods(mux)

	return &Connection{
		log:     a.log,
		mux:     mux,
		out:     out,
		eng:     eng,
		metrics: a.metrics,
	}
}

// HandleMessage processes one inbound wire message and returns the encoded
// response, or nil when the message produces none: notifications and
// responses to the agent's own requests. Lines that fail to decode are
// answered with an error response keyed to the recovered id, or the null id
// when none could be recovered.
func (c *Connection) HandleMessage(ctx context.Context, data []byte) []byte {
	start := time.Now()

	msg, derr := jsonrpc.DecodeMessage(data)
	if derr != nil {
		c.log.WarnContext(ctx, "conn.decode.fail",
			slog.Int("code", int(derr.Code)),
			slog.String("err", derr.Error()))
		c.metrics.RecordRPC("invalid", "error", time.Since(start))
		return c.encode(ctx, derr.Response())
	}

	if msg.Type() == "response" {
		c.out.OnResponse(msg.AsResponse())
		return nil
	}

	req := msg.AsRequest()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   msg.Type(),
	})

	resp := c.mux.Dispatch(ctx, req)
	status := "ok"
	if resp != nil && resp.Error != nil {
		status = "error"
	}
	c.metrics.RecordRPC(req.Method, status, time.Since(start))
	if resp == nil {
		return nil
	}
	return c.encode(ctx, resp)
}

// encode renders a response for the wire. Encoding a response we built
// ourselves only fails on marshal bugs; degrade to an internal error rather
// than dropping the id.
func (c *Connection) encode(ctx context.Context, resp *jsonrpc.Response) []byte {
	b, err := jsonrpc.EncodeMessage(resp)
	if err != nil {
		c.log.ErrorContext(ctx, "conn.encode.fail", slog.String("err", err.Error()))
		fallback := jsonrpc.NewErrorResponse(resp.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		b, err = jsonrpc.EncodeMessage(fallback)
		if err != nil {
			return nil
		}
	}
	return b
}

// SessionCount reports the number of live sessions behind this connection.
func (c *Connection) SessionCount() int {
	return c.eng.SessionCount()
}

// Close releases the connection: pending agent-to-client calls fail with
// cause, in-flight operations are cancelled, and MCP servers are
// disconnected.
func (c *Connection) Close(cause error) error {
	c.out.Close(cause)
	return c.eng.Close()
}
