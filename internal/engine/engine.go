// Package engine implements the session orchestration core: the protocol
// handlers, the notification emitter, and the glue binding sessions,
// completions, tools, credentials, and persistence together. Transports stay
// wire-only; everything that gives the agent its semantics lives here.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/dispatch"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/observability"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
	"github.com/DefikitTeam/claude-code-container-sub003/tools/mcptools"
	"github.com/DefikitTeam/claude-code-container-sub003/workspace"
)

// defaultReplayLimit bounds the history replay emitted by session/load.
const defaultReplayLimit = 20

// MCPConnector spawns and connects one MCP server for a session. It is an
// option seam so tests can script connections without subprocesses.
type MCPConnector func(ctx context.Context, cfg acp.MCPServerConfig, log *slog.Logger) (*mcptools.ServerHandle, []tools.Tool, error)

// Engine orchestrates sessions over any transport. One Engine serves one
// agent process; per-session discipline is enforced by the operation
// tracker, so handlers may be invoked concurrently.
type Engine struct {
	log         *slog.Logger
	registry    *sessions.Registry
	tracker     *sessions.Tracker
	store       sessions.Store
	completions completion.Engine
	emitter     *Emitter
	creds       credentials.Provider
	describer   workspace.Describer
	baseTools   []tools.Tool
	clientFS    tools.ClientFS
	permissions tools.PermissionRequester
	connectMCP  MCPConnector
	metrics     *observability.Metrics
	clock       func() time.Time
	replayLimit int
	agentInfo   acp.ImplementationInfo
	authMethods []acp.AuthMethod

	mu          sync.Mutex
	initialized bool
	clientCaps  acp.ClientCapabilities
	clientInfo  *acp.ImplementationInfo

	toolsMu      sync.Mutex
	sessionTools map[string]*tools.Registry
	mcpHandles   map[string][]*mcptools.ServerHandle
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithStore enables persistence. Sessions are rehydrated from the store on a
// registry miss and saved back best-effort after successful mutations.
func WithStore(store sessions.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithCredentials sets the provider consulted on every prompt.
func WithCredentials(p credentials.Provider) Option {
	return func(e *Engine) {
		e.creds = p
	}
}

// WithWorkspaceDescriber overrides how session/new inspects the workspace.
func WithWorkspaceDescriber(d workspace.Describer) Option {
	return func(e *Engine) {
		e.describer = d
	}
}

// WithBaseTools replaces the builtin tool set handed to development sessions.
func WithBaseTools(ts []tools.Tool) Option {
	return func(e *Engine) {
		e.baseTools = ts
	}
}

// WithClientFS proxies file operations to the connected client when it
// advertises the fs capability during initialize.
func WithClientFS(fs tools.ClientFS) Option {
	return func(e *Engine) {
		e.clientFS = fs
	}
}

// WithPermissionRequester gates workspace-mutating tools behind a
// session/request_permission round trip.
func WithPermissionRequester(r tools.PermissionRequester) Option {
	return func(e *Engine) {
		e.permissions = r
	}
}

// WithMCPConnector overrides how session/new connects declared MCP servers.
func WithMCPConnector(c MCPConnector) Option {
	return func(e *Engine) {
		if c != nil {
			e.connectMCP = c
		}
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithReplayLimit bounds the history replay of session/load to the most
// recent n turns; n <= 0 replays everything.
func WithReplayLimit(n int) Option {
	return func(e *Engine) {
		e.replayLimit = n
	}
}

// WithAgentInfo sets the implementation info advertised to clients.
func WithAgentInfo(info acp.ImplementationInfo) Option {
	return func(e *Engine) {
		e.agentInfo = info
	}
}

// WithAuthMethods sets the auth methods advertised by initialize and
// attached to auth-required errors.
func WithAuthMethods(methods []acp.AuthMethod) Option {
	return func(e *Engine) {
		e.authMethods = methods
	}
}

// New constructs an Engine around the given completion engine and emitter.
func New(completions completion.Engine, emitter *Emitter, opts ...Option) *Engine {
	e := &Engine{
		log:         slog.Default(),
		registry:    sessions.NewRegistry(),
		tracker:     sessions.NewTracker(),
		completions: completions,
		emitter:     emitter,
		describer:   &workspace.Git{},
		baseTools:   tools.WorkspaceTools(),
		connectMCP:  mcptools.Connect,
		clock:       time.Now,
		replayLimit: defaultReplayLimit,
		agentInfo:   acp.ImplementationInfo{Name: "ccagent", Version: "0.1.0"},
		authMethods: []acp.AuthMethod{{
			ID:          "api-key",
			Name:        "API key",
			Description: "Authenticate with a model API key from the environment or credentials file",
		}},
		sessionTools: make(map[string]*tools.Registry),
		mcpHandles:   make(map[string][]*mcptools.ServerHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emitter == nil {
		e.emitter = NewEmitter(nopSender{}, WithEmitterLogger(e.log))
	}
	return e
}

// RegisterMethods binds every protocol handler onto mux.
func (e *Engine) RegisterMethods(mux *dispatch.Mux) {
	mux.Register(acp.InitializeMethod, e.handleInitialize)
	mux.Register(acp.AuthenticateMethod, e.handleAuthenticate)
	mux.Register(acp.SessionNewMethod, e.handleNewSession)
	mux.Register(acp.SessionLoadMethod, e.handleLoadSession)
	mux.Register(acp.SessionPromptMethod, e.handlePrompt)
	mux.Register(acp.CancelMethod, e.handleCancel)
}

// Emitter returns the notification emitter bound to this engine.
func (e *Engine) Emitter() *Emitter {
	return e.emitter
}

// SessionCount reports the number of registered sessions.
func (e *Engine) SessionCount() int {
	return e.registry.Count()
}

// Close cancels every in-flight operation and disconnects all MCP servers.
func (e *Engine) Close() error {
	for _, sess := range e.registry.All() {
		e.tracker.Cancel(sess.SessionID)
	}

	e.toolsMu.Lock()
	handles := e.mcpHandles
	e.mcpHandles = make(map[string][]*mcptools.ServerHandle)
	e.toolsMu.Unlock()

	for sessionID, hs := range handles {
		for _, h := range hs {
			if err := h.Close(); err != nil {
				e.log.Warn("engine.mcp.close_fail",
					slog.String("session_id", sessionID),
					slog.String("server", h.Name()),
					slog.String("err", err.Error()))
			}
		}
	}
	return nil
}

// requireInitialized gates every session method behind initialize.
func (e *Engine) requireInitialized(method acp.Method) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return &acp.NotInitializedError{Method: string(method)}
	}
	return nil
}

func (e *Engine) clientCapabilities() acp.ClientCapabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientCaps
}

// resolveSession returns an isolated copy of the session, rehydrating from
// the store on a registry miss. A store infrastructure failure is logged and
// treated as a miss: the agent stays available and reports Session-Not-Found
// rather than failing the request on a flaky backend.
func (e *Engine) resolveSession(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sess, ok := e.registry.Get(sessionID); ok {
		return sess, nil
	}
	if e.store != nil {
		sess, err := e.store.Load(ctx, sessionID)
		if err == nil {
			e.registry.Set(sessionID, sess)
			e.log.InfoContext(ctx, "engine.session.rehydrated", slog.String("session_id", sessionID))
			if resolved, ok := e.registry.Get(sessionID); ok {
				return resolved, nil
			}
		} else if !errors.Is(err, sessions.ErrNotFound) {
			e.log.WarnContext(ctx, "engine.session.store_load_fail",
				slog.String("session_id", sessionID),
				slog.String("err", err.Error()))
		}
	}
	return nil, &acp.SessionNotFoundError{SessionID: sessionID}
}

// saveBestEffort persists the session without failing the request. The
// registry stays authoritative; the store is a rehydration cache.
func (e *Engine) saveBestEffort(ctx context.Context, sess *sessions.Session, log *slog.Logger) {
	if e.store == nil || sess == nil {
		return
	}
	if err := e.store.Save(ctx, sess); err != nil {
		log.WarnContext(ctx, "engine.session.store_save_fail",
			slog.String("session_id", sess.SessionID),
			slog.String("err", err.Error()))
	}
}

// sessionToolset returns the tool registry built for the session at
// session/new time. Rehydrated sessions fall back to the base set; MCP
// connections are process-scoped and are not re-established on load.
func (e *Engine) sessionToolset(sessionID string) *tools.Registry {
	e.toolsMu.Lock()
	defer e.toolsMu.Unlock()
	if reg, ok := e.sessionTools[sessionID]; ok {
		return reg
	}
	reg := tools.NewRegistry(e.gated(e.clientTools(append([]tools.Tool(nil), e.baseTools...)))...)
	e.sessionTools[sessionID] = reg
	return reg
}

// clientTools appends the client-fs proxy tools permitted by the
// capabilities recorded during initialize.
func (e *Engine) clientTools(ts []tools.Tool) []tools.Tool {
	if e.clientFS == nil {
		return ts
	}
	caps := e.clientCapabilities()
	for _, t := range tools.ClientFSTools(e.clientFS) {
		switch t.Spec.Name {
		case "read_text_file":
			if caps.FS.ReadTextFile {
				ts = append(ts, t)
			}
		case "write_text_file":
			if caps.FS.WriteTextFile {
				ts = append(ts, t)
			}
		}
	}
	return ts
}

// gated wraps workspace-mutating tools behind the permission requester.
func (e *Engine) gated(ts []tools.Tool) []tools.Tool {
	if e.permissions == nil {
		return ts
	}
	for i, t := range ts {
		if t.Spec.Name == "write_file" || t.Spec.Name == "write_text_file" {
			ts[i] = tools.Gated(t, e.permissions)
		}
	}
	return ts
}

func (e *Engine) updateSessionGauges() {
	if e.metrics == nil {
		return
	}
	counts := map[sessions.State]int{
		sessions.StateActive:    0,
		sessions.StatePaused:    0,
		sessions.StateCompleted: 0,
	}
	for _, sess := range e.registry.All() {
		counts[sess.State]++
	}
	for state, n := range counts {
		e.metrics.SetSessions(string(state), n)
	}
}

func newOperationID() string {
	return ulid.Make().String()
}

func newSessionID() string {
	return uuid.NewString()
}

type nopSender struct{}

func (nopSender) Send(context.Context, any) error { return nil }
