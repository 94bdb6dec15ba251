package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/completion/anthropic"
	"github.com/DefikitTeam/claude-code-container-sub003/completion/openai"
	"github.com/DefikitTeam/claude-code-container-sub003/config"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/mirror"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions/memorystore"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions/redisstore"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
	"github.com/DefikitTeam/claude-code-container-sub003/workspace"
)

// newLogger builds the process logger on stderr so stdout stays reserved for
// protocol traffic in stdio mode.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Log.ParseLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.Log.Format {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h), nil
}

// buildCredentials picks the credential source: a hot-reloaded file when
// configured, otherwise the provider's conventional environment variables.
func buildCredentials(cfg *config.Config, log *slog.Logger) (credentials.Provider, error) {
	if cfg.Backend.CredentialsFile != "" {
		return credentials.NewFile(cfg.Backend.CredentialsFile, log)
	}
	switch cfg.Backend.Provider {
	case "openai":
		return credentials.NewEnv("OPENAI_API_KEY", "OPENAI_BASE_URL"), nil
	default:
		return credentials.NewEnv("ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"), nil
	}
}

// buildAgent assembles the agent from configuration. The returned cleanup
// closes everything the build opened, in reverse order.
func buildAgent(cfg *config.Config, log *slog.Logger) (*agent.Agent, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn("cleanup failed", slog.String("err", err.Error()))
			}
		}
	}

	creds, err := buildCredentials(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials: %w", err)
	}
	if c, ok := creds.(io.Closer); ok {
		closers = append(closers, c)
	}

	var backend completion.Engine
	switch cfg.Backend.Provider {
	case "openai":
		backend = openai.New(openai.Config{
			Model:         cfg.Backend.Model,
			SystemPrompt:  cfg.Backend.SystemPrompt,
			MaxToolRounds: cfg.Backend.MaxToolRounds,
		}, nil, log)
	default:
		backend = anthropic.New(anthropic.Config{
			Model:         cfg.Backend.Model,
			MaxTokens:     cfg.Backend.MaxTokens,
			SystemPrompt:  cfg.Backend.SystemPrompt,
			MaxToolRounds: cfg.Backend.MaxToolRounds,
		}, nil, log)
	}

	opts := []agent.Option{
		agent.WithLogger(log),
		agent.WithCredentials(creds),
		agent.WithWorkspaceDescriber(workspace.NewGit()),
		agent.WithTools(tools.WorkspaceTools()),
		agent.WithAgentInfo(acp.ImplementationInfo{Name: "ccagent", Version: version}),
		agent.WithReplayLimit(cfg.Agent.ReplayLimit),
	}
	if cfg.Agent.Metrics {
		opts = append(opts, agent.WithMetrics())
	}

	if cfg.Sessions.Store == "redis" {
		store, err := redisstore.New(redisstore.Config{
			RedisAddr:   cfg.Sessions.RedisAddr,
			KeyPrefix:   cfg.Sessions.KeyPrefix,
			SnapshotTTL: cfg.Sessions.SnapshotTTL,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		closers = append(closers, store)
		opts = append(opts, agent.WithSessionStore(store))
	} else {
		opts = append(opts, agent.WithSessionStore(memorystore.NewStore()))
	}

	if cfg.Mirror.Sink == "redis" {
		sink := mirror.NewRedisSink(nil, mirror.RedisConfig{
			RedisAddr:    cfg.Mirror.RedisAddr,
			KeyPrefix:    cfg.Mirror.KeyPrefix,
			MaxStreamLen: cfg.Mirror.MaxStreamLen,
		})
		closers = append(closers, sink)
		opts = append(opts, agent.WithMirrorSink(sink))
	}

	return agent.New(backend, opts...), cleanup, nil
}
