package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/logctx"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
	"github.com/DefikitTeam/claude-code-container-sub003/tools/mcptools"
)

func decodeParams[T any](req *jsonrpc.Request) (*T, error) {
	var params T
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &acp.InvalidParamsError{Reason: "malformed params"}
		}
	}
	return &params, nil
}

// handleInitialize records the client's capabilities and advertises ours.
// It is idempotent: a repeated call re-records the client state and returns
// the same answer.
func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	params, err := decodeParams[acp.InitializeRequest](req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.initialized = true
	e.clientCaps = params.ClientCapabilities
	e.clientInfo = params.ClientInfo
	e.mu.Unlock()

	attrs := []slog.Attr{
		slog.Int("client_protocol", params.ProtocolVersion),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	}
	if params.ClientInfo != nil {
		attrs = append(attrs,
			slog.String("client_name", params.ClientInfo.Name),
			slog.String("client_version", params.ClientInfo.Version))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "engine.initialize.ok", attrs...)

	return &acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersion,
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: acp.PromptCapabilities{
				Audio:           false,
				Image:           false,
				EmbeddedContext: false,
			},
		},
		AuthMethods: e.authMethods,
	}, nil
}

// handleAuthenticate validates the selected auth method and probes the
// credentials provider so a missing key is reported here instead of on the
// first prompt.
func (e *Engine) handleAuthenticate(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if err := e.requireInitialized(acp.AuthenticateMethod); err != nil {
		return nil, err
	}
	params, err := decodeParams[acp.AuthenticateRequest](req)
	if err != nil {
		return nil, err
	}

	known := false
	for _, m := range e.authMethods {
		if m.ID == params.MethodID {
			known = true
			break
		}
	}
	if !known {
		return nil, &acp.InvalidParamsError{Field: "methodId", Reason: fmt.Sprintf("unknown auth method %q", params.MethodID)}
	}

	if e.creds != nil {
		if _, err := e.creds.Credentials(ctx); err != nil {
			if errors.Is(err, credentials.ErrNoCredentials) {
				return nil, &acp.AuthRequiredError{Methods: e.authMethods}
			}
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
	}

	log.InfoContext(ctx, "engine.authenticate.ok",
		slog.String("method_id", params.MethodID),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return &acp.AuthenticateResponse{}, nil
}

// handleNewSession allocates a session bound to a workspace. Workspace
// description and MCP connections are best-effort; their failures are logged
// and never block creation.
func (e *Engine) handleNewSession(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if err := e.requireInitialized(acp.SessionNewMethod); err != nil {
		return nil, err
	}
	params, err := decodeParams[acp.NewSessionRequest](req)
	if err != nil {
		return nil, err
	}

	mode := params.Mode
	if mode == "" {
		mode = acp.SessionModeDevelopment
	}
	if !acp.IsValidSessionMode(mode) {
		return nil, &acp.InvalidParamsError{
			Field:  "mode",
			Reason: fmt.Sprintf("must be %q or %q", acp.SessionModeDevelopment, acp.SessionModeConversation),
		}
	}

	sessionID := newSessionID()
	now := e.clock().UTC()
	sess := &sessions.Session{
		SessionID:    sessionID,
		WorkspaceRef: params.Cwd,
		Mode:         mode,
		State:        sessions.StateActive,
		CreatedAt:    now,
		LastActiveAt: now,
		AgentContext: map[string]any{},
	}

	var wsInfo *acp.WorkspaceInfo
	if e.describer != nil && params.Cwd != "" {
		desc, err := e.describer.Describe(ctx, params.Cwd)
		if err != nil {
			log.WarnContext(ctx, "engine.session_new.workspace_describe_fail",
				slog.String("cwd", params.Cwd),
				slog.String("err", err.Error()))
		} else {
			wsInfo = &acp.WorkspaceInfo{
				RootPath:              desc.RootPath,
				Branch:                desc.Branch,
				HasUncommittedChanges: desc.HasUncommittedChanges,
			}
			sess.WorkspaceRef = desc.RootPath
		}
	}

	e.buildSessionTools(ctx, sessionID, params.MCPServers, log)
	e.registry.Set(sessionID, sess)
	e.saveBestEffort(ctx, sess, log)
	e.updateSessionGauges()

	log.InfoContext(ctx, "engine.session_new.ok",
		slog.String("session_id", sessionID),
		slog.String("mode", string(mode)),
		slog.Int("mcp_servers", len(params.MCPServers)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	return &acp.NewSessionResponse{SessionID: sessionID, Workspace: wsInfo}, nil
}

// buildSessionTools assembles the session's tool registry: builtins, then
// capability-gated client-fs proxies, then tools listed by each connected
// MCP server.
func (e *Engine) buildSessionTools(ctx context.Context, sessionID string, servers []acp.MCPServerConfig, log *slog.Logger) {
	ts := e.gated(e.clientTools(append([]tools.Tool(nil), e.baseTools...)))

	var handles []*mcptools.ServerHandle
	for _, cfg := range servers {
		handle, remote, err := e.connectMCP(ctx, cfg, e.log)
		if err != nil {
			log.WarnContext(ctx, "engine.mcp.connect_fail",
				slog.String("server", cfg.Name),
				slog.String("err", err.Error()))
			continue
		}
		handles = append(handles, handle)
		ts = append(ts, remote...)
	}

	e.toolsMu.Lock()
	e.sessionTools[sessionID] = tools.NewRegistry(ts...)
	e.mcpHandles[sessionID] = handles
	e.toolsMu.Unlock()
}

// handleLoadSession rehydrates a session and replays the tail of its history
// as session/update notifications before answering.
func (e *Engine) handleLoadSession(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if err := e.requireInitialized(acp.SessionLoadMethod); err != nil {
		return nil, err
	}
	params, err := decodeParams[acp.LoadSessionRequest](req)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, &acp.InvalidParamsError{Field: "sessionId", Reason: "required"}
	}

	sess, err := e.resolveSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.SessionID,
		Mode:      string(sess.Mode),
		State:     sess.State,
	})

	tail := sess.HistoryTail(e.replayLimit)
	for _, turn := range tail {
		text := turnText(turn.Content)
		if text == "" {
			continue
		}
		switch turn.Role {
		case acp.RoleUser:
			_ = e.emitter.UserMessageChunk(ctx, sess.SessionID, text)
		default:
			_ = e.emitter.AgentMessageChunk(ctx, sess.SessionID, text)
		}
	}

	now := e.clock().UTC()
	e.registry.Update(sess.SessionID, func(s *sessions.Session) {
		s.Touch(now)
	})
	if cur, ok := e.registry.Get(sess.SessionID); ok {
		e.saveBestEffort(ctx, cur, log)
	}

	log.InfoContext(ctx, "engine.session_load.ok",
		slog.String("session_id", sess.SessionID),
		slog.Int("replayed_turns", len(tail)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return &acp.LoadSessionResponse{}, nil
}

// handlePrompt runs one prompt turn under the per-session single-flight
// guard. The operation is released in a defer so every exit path, including
// panics recovered by the dispatcher, clears the busy state.
func (e *Engine) handlePrompt(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if err := e.requireInitialized(acp.SessionPromptMethod); err != nil {
		return nil, err
	}
	params, err := decodeParams[acp.PromptRequest](req)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, &acp.InvalidParamsError{Field: "sessionId", Reason: "required"}
	}
	if len(params.Prompt) == 0 {
		return nil, &acp.InvalidParamsError{Field: "prompt", Reason: "must contain at least one content block"}
	}
	if e.completions == nil {
		return nil, errors.New("no completion engine configured")
	}

	sess, err := e.resolveSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}

	opID := newOperationID()
	tok, busy, err := e.tracker.BeginExclusive(params.SessionID, opID)
	if err != nil {
		log.InfoContext(ctx, "engine.session_prompt.busy",
			slog.String("session_id", params.SessionID),
			slog.Int("busy_operations", busy))
		return nil, &acp.OperationInProgressError{SessionID: params.SessionID, BusyOperations: busy}
	}
	e.metrics.IncBusyOperations()
	defer func() {
		e.tracker.Complete(params.SessionID, opID)
		e.metrics.DecBusyOperations()
	}()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.SessionID,
		Mode:      string(sess.Mode),
		State:     sess.State,
	})
	ctx = logctx.WithOperationData(ctx, &logctx.OperationData{OperationID: opID})

	now := e.clock().UTC()
	userTurn := acp.Turn{Role: acp.RoleUser, Content: params.Prompt, At: now}
	if ok := e.registry.Update(params.SessionID, func(s *sessions.Session) {
		s.AgentContext = mergeContext(s.AgentContext, params.AgentContext)
		s.AppendTurn(userTurn)
		if s.State == sessions.StatePaused {
			s.State = sessions.StateActive
		}
		s.Touch(now)
	}); !ok {
		return nil, &acp.SessionNotFoundError{SessionID: params.SessionID}
	}
	work, ok := e.registry.Get(params.SessionID)
	if !ok {
		return nil, &acp.SessionNotFoundError{SessionID: params.SessionID}
	}

	creds, err := e.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	creq := &completion.Request{
		SessionID:     work.SessionID,
		Prompt:        params.Prompt,
		History:       work.MessageHistory[:len(work.MessageHistory)-1],
		Context:       work.AgentContext,
		Mode:          work.Mode,
		WorkspaceRoot: work.WorkspaceRef,
		Tools:         e.sessionToolset(work.SessionID),
		Credentials:   creds,
	}
	events := newPromptEvents(e.emitter, work.SessionID)

	result, err := e.completions.Run(ctx, creq, events, tok)
	if err != nil {
		if errors.Is(err, completion.ErrAuthRequired) {
			return nil, &acp.AuthRequiredError{Methods: e.authMethods}
		}
		if tok.IsCancelled() {
			result = &completion.Result{StopReason: acp.StopReasonCancelled}
		} else {
			log.ErrorContext(ctx, "engine.session_prompt.fail",
				slog.String("session_id", params.SessionID),
				slog.String("err", err.Error()))
			return nil, fmt.Errorf("completion engine: %w", err)
		}
	}
	if tok.IsCancelled() {
		result.StopReason = acp.StopReasonCancelled
	}

	if text := events.Text(); text != "" {
		e.registry.Update(params.SessionID, func(s *sessions.Session) {
			s.AppendTurn(acp.Turn{
				Role:    acp.RoleAssistant,
				Content: []acp.ContentBlock{acp.NewTextBlock(text)},
				At:      e.clock().UTC(),
			})
			s.Touch(e.clock().UTC())
		})
	}
	if cur, ok := e.registry.Get(params.SessionID); ok {
		e.saveBestEffort(ctx, cur, log)
	}

	e.metrics.RecordPromptRun(string(result.StopReason), result.Usage.InputTokens, result.Usage.OutputTokens)
	log.InfoContext(ctx, "engine.session_prompt.ok",
		slog.String("session_id", params.SessionID),
		slog.String("stop_reason", string(result.StopReason)),
		slog.Int64("input_tokens", result.Usage.InputTokens),
		slog.Int64("output_tokens", result.Usage.OutputTokens),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	return &acp.PromptResponse{
		StopReason: result.StopReason,
		Usage: acp.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
	}, nil
}

func (e *Engine) resolveCredentials(ctx context.Context) (credentials.Credentials, error) {
	if e.creds == nil {
		return credentials.Credentials{}, nil
	}
	creds, err := e.creds.Credentials(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredentials) {
			return credentials.Credentials{}, &acp.AuthRequiredError{Methods: e.authMethods}
		}
		return credentials.Credentials{}, fmt.Errorf("resolve credentials: %w", err)
	}
	return creds, nil
}

// handleCancel clears every in-flight operation of the session. Cancelling
// an idle or unknown session is a no-op answered with cancelled:false.
func (e *Engine) handleCancel(ctx context.Context, req *jsonrpc.Request) (any, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if err := e.requireInitialized(acp.CancelMethod); err != nil {
		return nil, err
	}
	params, err := decodeParams[acp.CancelRequest](req)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, &acp.InvalidParamsError{Field: "sessionId", Reason: "required"}
	}

	cancelled := e.tracker.Cancel(params.SessionID)
	if cancelled {
		now := e.clock().UTC()
		e.registry.Update(params.SessionID, func(s *sessions.Session) {
			s.State = sessions.StatePaused
			s.Touch(now)
		})
		if cur, ok := e.registry.Get(params.SessionID); ok {
			e.saveBestEffort(ctx, cur, log)
		}
		e.updateSessionGauges()
	}

	log.InfoContext(ctx, "engine.cancel.ok",
		slog.String("session_id", params.SessionID),
		slog.Bool("cancelled", cancelled),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return &acp.CancelResponse{Cancelled: cancelled}, nil
}

func turnText(blocks []acp.ContentBlock) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == acp.ContentTypeText && block.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
