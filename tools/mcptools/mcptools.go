// Package mcptools connects to external MCP servers named in a session's
// configuration and exposes their tools alongside the builtin ones. Servers
// run as child processes speaking MCP over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
)

// ServerHandle owns the connection to one MCP server process.
type ServerHandle struct {
	name    string
	session *sdk.ClientSession
}

// Name returns the configured server name.
func (h *ServerHandle) Name() string { return h.name }

// Close shuts the session down, terminating the child process.
func (h *ServerHandle) Close() error {
	return h.session.Close()
}

// Connect launches the configured server, lists its tools and wraps each as
// a tools.Tool that forwards invocations over the session.
func Connect(ctx context.Context, cfg acp.MCPServerConfig, log *slog.Logger) (*ServerHandle, []tools.Tool, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for _, ev := range cfg.Env {
		cmd.Env = append(cmd.Env, ev.Name+"="+ev.Value)
	}

	client := sdk.NewClient(&sdk.Implementation{Name: "ccagent", Version: "0.1.0"}, &sdk.ClientOptions{})
	session, err := client.Connect(ctx, &sdk.CommandTransport{Command: cmd}, &sdk.ClientSessionOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mcp server %q: %w", cfg.Name, err)
	}

	handle := &ServerHandle{name: cfg.Name, session: session}

	var wrapped []tools.Tool
	params := &sdk.ListToolsParams{}
	for {
		page, err := session.ListTools(ctx, params)
		if err != nil {
			_ = session.Close()
			return nil, nil, fmt.Errorf("list tools from mcp server %q: %w", cfg.Name, err)
		}
		for _, t := range page.Tools {
			wrapped = append(wrapped, wrapTool(session, cfg.Name, t))
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}

	log.InfoContext(ctx, "mcp.server.connected",
		slog.String("server", cfg.Name),
		slog.Int("tools", len(wrapped)),
	)
	return handle, wrapped, nil
}

func wrapTool(session *sdk.ClientSession, serverName string, t *sdk.Tool) tools.Tool {
	spec := tools.Spec{
		Name:        t.Name,
		Description: t.Description,
		Properties:  map[string]any{},
	}
	// Lift properties and required out of the server's schema without
	// binding to its schema representation.
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			var shape struct {
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			}
			if json.Unmarshal(raw, &shape) == nil {
				if shape.Properties != nil {
					spec.Properties = shape.Properties
				}
				spec.Required = shape.Required
			}
		}
	}

	handler := func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return tools.Errorf("invalid arguments: %v", err), nil
			}
		}
		res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: t.Name, Arguments: args})
		if err != nil {
			return nil, fmt.Errorf("call tool %s on %s: %w", t.Name, serverName, err)
		}

		var text string
		for _, c := range res.Content {
			if tc, ok := c.(*sdk.TextContent); ok {
				text += tc.Text
			}
		}
		if res.IsError {
			return &tools.Result{Content: text, IsError: true}, nil
		}
		return tools.Text(text), nil
	}

	return tools.Tool{Spec: spec, Handler: handler}
}
