package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
)

// Client exposes the agent->client request surface as typed calls. Each
// method is gated on the capabilities the client declared during initialize;
// callers wire only the methods the client advertised.
type Client struct {
	d *Dispatcher
}

// NewClient wraps a dispatcher with typed protocol calls.
func NewClient(d *Dispatcher) *Client {
	return &Client{d: d}
}

// ReadTextFile asks the client to read a file from its own filesystem. A
// zero line or limit is omitted from the request.
func (c *Client) ReadTextFile(ctx context.Context, sessionID, path string, line, limit int) (string, error) {
	req := acp.ReadTextFileRequest{SessionID: sessionID, Path: path}
	if line > 0 {
		req.Line = &line
	}
	if limit > 0 {
		req.Limit = &limit
	}
	var res acp.ReadTextFileResponse
	if err := c.call(ctx, acp.FsReadTextFileMethod, req, &res); err != nil {
		return "", err
	}
	return res.Content, nil
}

// WriteTextFile asks the client to write a file on its own filesystem.
func (c *Client) WriteTextFile(ctx context.Context, sessionID, path, content string) error {
	req := acp.WriteTextFileRequest{SessionID: sessionID, Path: path, Content: content}
	return c.call(ctx, acp.FsWriteTextFileMethod, req, nil)
}

// RequestPermission asks the client to approve a tool invocation. The
// cancelled outcome is a normal response, not an error; callers decide what
// a refusal means for the turn.
func (c *Client) RequestPermission(ctx context.Context, req acp.RequestPermissionRequest) (*acp.RequestPermissionResponse, error) {
	var res acp.RequestPermissionResponse
	if err := c.call(ctx, acp.SessionRequestPermissionMethod, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) call(ctx context.Context, method acp.Method, params, result any) error {
	raw, err := c.d.Call(ctx, string(method), params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
