// Package dispatch routes decoded JSON-RPC requests to registered method
// handlers and renders every failure through the fixed wire taxonomy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
)

// HandlerFunc serves one method. The returned value is marshalled into the
// response result; a returned error is translated to a wire error by type.
type HandlerFunc func(ctx context.Context, req *jsonrpc.Request) (any, error)

// Mux maps method names to handlers. Register every handler during wiring:
// Dispatch reads the map without locking, so registering after traffic starts
// is a data race. Dispatches run concurrently with no lock between them; all
// per-session discipline lives in the operation tracker, not here.
type Mux struct {
	log      *slog.Logger
	handlers map[string]HandlerFunc
}

// NewMux constructs an empty Mux. A nil logger discards.
func NewMux(log *slog.Logger) *Mux {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Mux{log: log, handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a method name, replacing any previous binding.
func (m *Mux) Register(method acp.Method, h HandlerFunc) {
	m.handlers[string(method)] = h
}

// Dispatch serves one request or notification. An id-bearing request always
// yields exactly one response keyed to the caller's id. Notifications yield
// nil; their failures are logged and dropped, never written back.
func (m *Mux) Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	isNotification := req.ID.IsNil()
	log := m.log.With(slog.String("method", req.Method))

	h, ok := m.handlers[req.Method]
	if !ok {
		if isNotification {
			log.DebugContext(ctx, "rpc.notification.unknown")
			return nil
		}
		log.InfoContext(ctx, "rpc.method_not_found", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	result, err := m.invoke(ctx, h, req)
	if err != nil {
		if isNotification {
			log.WarnContext(ctx, "rpc.notification.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return nil
		}
		wireErr := Translate(err)
		log.InfoContext(ctx, "rpc.request.fail",
			slog.Int("code", int(wireErr.Code)),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: wireErr, ID: req.ID}
	}

	if isNotification {
		log.InfoContext(ctx, "rpc.notification.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "rpc.result_encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	log.InfoContext(ctx, "rpc.request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return resp
}

// invoke runs a handler with panic containment so one broken handler cannot
// take the stream loop down.
func (m *Mux) invoke(ctx context.Context, h HandlerFunc, req *jsonrpc.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(ctx, "rpc.handler.panic",
				slog.String("method", req.Method),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, req)
}

// Translate maps a handler failure onto the wire taxonomy. Typed protocol
// errors keep their code and structured data; a *jsonrpc.Error passes through
// verbatim; anything else collapses to a generic internal error so internal
// detail never leaks to the client.
func Translate(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var notInit *acp.NotInitializedError
	if errors.As(err, &notInit) {
		return &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeNotInitialized,
			Message: "agent not initialized",
			Data:    map[string]any{"method": notInit.Method},
		}
	}

	var notFound *acp.SessionNotFoundError
	if errors.As(err, &notFound) {
		return &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeSessionNotFound,
			Message: "session not found",
			Data:    map[string]any{"sessionId": notFound.SessionID},
		}
	}

	var busy *acp.OperationInProgressError
	if errors.As(err, &busy) {
		return &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeOperationInProgress,
			Message: "operation already in progress",
			Data: map[string]any{
				"sessionId":      busy.SessionID,
				"busyOperations": busy.BusyOperations,
			},
		}
	}

	var auth *acp.AuthRequiredError
	if errors.As(err, &auth) {
		wireErr := &jsonrpc.Error{Code: jsonrpc.ErrorCodeAuthRequired, Message: "authentication required"}
		if len(auth.Methods) > 0 {
			wireErr.Data = map[string]any{"authMethods": auth.Methods}
		}
		return wireErr
	}

	var invalid *acp.InvalidParamsError
	if errors.As(err, &invalid) {
		data := map[string]any{"reason": invalid.Reason}
		if invalid.Field != "" {
			data["field"] = invalid.Field
		}
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: invalid.Error(), Data: data}
	}

	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "internal error"}
}
