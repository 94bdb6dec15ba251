// Package agent exposes the embeddable coding agent. An Agent bundles the
// completion backend with session persistence, credentials, workspace
// description and tooling; transports bind it to a live client connection
// with Connect and shuttle wire bytes through the returned Connection.
//
// Example:
//
//	a := agent.New(anthropic.New(),
//	    agent.WithSessionStore(memorystore.NewStore()),
//	    agent.WithCredentials(credentials.NewEnv("ANTHROPIC_API_KEY", "")),
//	)
//	h := stdio.NewHandler(a)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
package agent

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/engine"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/observability"
	"github.com/DefikitTeam/claude-code-container-sub003/mirror"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
	"github.com/DefikitTeam/claude-code-container-sub003/workspace"
)

// Agent is the transport-independent agent configuration. Construct one with
// New, then hand it to a transport (stdio, httpbridge) or bind it to a custom
// transport via Connect.
type Agent struct {
	backend     completion.Engine
	log         *slog.Logger
	store       sessions.Store
	creds       credentials.Provider
	describer   workspace.Describer
	baseTools   []tools.Tool
	sink        mirror.Sink
	metrics     *observability.Metrics
	info        *acp.ImplementationInfo
	authMethods []acp.AuthMethod
	replayLimit int
	clock       func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger shared by the engine and transports.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// WithSessionStore persists session snapshots so sessions survive process
// restarts and can be loaded on other instances.
func WithSessionStore(store sessions.Store) Option {
	return func(a *Agent) { a.store = store }
}

// WithCredentials sets the provider consulted for backend credentials on
// every prompt.
func WithCredentials(p credentials.Provider) Option {
	return func(a *Agent) { a.creds = p }
}

// WithWorkspaceDescriber overrides how session workspaces are resolved. The
// default shells out to git.
func WithWorkspaceDescriber(d workspace.Describer) Option {
	return func(a *Agent) {
		if d != nil {
			a.describer = d
		}
	}
}

// WithTools replaces the builtin workspace tool set.
func WithTools(ts []tools.Tool) Option {
	return func(a *Agent) { a.baseTools = ts }
}

// WithMirrorSink mirrors every session update to sink after the client
// write.
func WithMirrorSink(sink mirror.Sink) Option {
	return func(a *Agent) { a.sink = sink }
}

// WithMetrics enables Prometheus instrumentation. The populated registry is
// available through MetricsRegistry for serving.
func WithMetrics() Option {
	return func(a *Agent) { a.metrics = observability.NewMetrics() }
}

// WithAgentInfo overrides the implementation info reported by initialize.
func WithAgentInfo(info acp.ImplementationInfo) Option {
	return func(a *Agent) { a.info = &info }
}

// WithAuthMethods overrides the advertised authentication methods.
func WithAuthMethods(methods []acp.AuthMethod) Option {
	return func(a *Agent) { a.authMethods = methods }
}

// WithReplayLimit caps how many history turns session/load replays.
func WithReplayLimit(n int) Option {
	return func(a *Agent) { a.replayLimit = n }
}

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Agent) { a.clock = clock }
}

// New builds an Agent around the given completion backend.
func New(backend completion.Engine, opts ...Option) *Agent {
	a := &Agent{
		backend: backend,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MetricsRegistry returns the Prometheus registry populated when metrics are
// enabled, or nil.
func (a *Agent) MetricsRegistry() *prometheus.Registry {
	return a.metrics.Registry()
}

// Logger returns the agent's logger.
func (a *Agent) Logger() *slog.Logger {
	return a.log
}

func (a *Agent) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(a.log),
		engine.WithMetrics(a.metrics),
	}
	if a.store != nil {
		opts = append(opts, engine.WithStore(a.store))
	}
	if a.creds != nil {
		opts = append(opts, engine.WithCredentials(a.creds))
	}
	if a.describer != nil {
		opts = append(opts, engine.WithWorkspaceDescriber(a.describer))
	}
	if a.baseTools != nil {
		opts = append(opts, engine.WithBaseTools(a.baseTools))
	}
	if a.info != nil {
		opts = append(opts, engine.WithAgentInfo(*a.info))
	}
	if a.authMethods != nil {
		opts = append(opts, engine.WithAuthMethods(a.authMethods))
	}
	if a.replayLimit > 0 {
		opts = append(opts, engine.WithReplayLimit(a.replayLimit))
	}
	if a.clock != nil {
		opts = append(opts, engine.WithClock(a.clock))
	}
	return opts
}
