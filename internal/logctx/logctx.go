// Package logctx enriches slog records with request-scoped groups carried on
// the context. The stdio loop and HTTP bridge stamp the context once; every
// log line emitted below them picks the groups up without threading loggers
// through call signatures.
package logctx

import (
	"context"
	"log/slog"

	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
)

// Handler decorates another slog.Handler. Wrap the root handler once at
// process startup.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("mode", sd.Mode),
			slog.String("state", string(sd.State)),
		))
	}

	if od, ok := ctx.Value(operationDataKey{}).(*OperationData); ok {
		r.AddAttrs(slog.Group("op",
			slog.String("id", od.OperationID),
		))
	}

	if hd, ok := ctx.Value(httpDataKey{}).(*HTTPData); ok {
		r.AddAttrs(slog.Group("http",
			slog.String("id", hd.RequestID),
			slog.String("method", hd.Method),
			slog.String("path", hd.Path),
			slog.String("remote_addr", hd.RemoteAddr),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type rpcMsgKey struct{}

// RPCMessage identifies the wire message a dispatch is serving.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type sessionDataKey struct{}

// SessionData identifies the session a handler resolved.
type SessionData struct {
	SessionID string
	Mode      string
	State     sessions.State
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type operationDataKey struct{}

// OperationData identifies the exclusive operation a prompt turn runs under.
type OperationData struct {
	OperationID string
}

func WithOperationData(ctx context.Context, data *OperationData) context.Context {
	return context.WithValue(ctx, operationDataKey{}, data)
}

type httpDataKey struct{}

// HTTPData describes the bridge request an RPC arrived on.
type HTTPData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithHTTPData(ctx context.Context, data *HTTPData) context.Context {
	return context.WithValue(ctx, httpDataKey{}, data)
}
