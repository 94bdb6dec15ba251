package tools

import (
	"context"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
)

// PermissionRequester asks the connected client to approve a tool
// invocation before it runs.
type PermissionRequester interface {
	RequestPermission(ctx context.Context, req acp.RequestPermissionRequest) (*acp.RequestPermissionResponse, error)
}

// Gated wraps t so every invocation first asks the client for permission. A
// rejected or cancelled prompt yields an error result without running the
// tool; the model sees the refusal and can adjust instead of the turn dying.
func Gated(t Tool, r PermissionRequester) Tool {
	inner := t.Handler
	t.Handler = func(ctx context.Context, call *Call) (*Result, error) {
		res, err := r.RequestPermission(ctx, acp.RequestPermissionRequest{
			SessionID: call.SessionID,
			ToolCall:  acp.ToolCallRef{ToolCallID: call.ID, Title: t.Spec.Name},
			Options: []acp.PermissionOption{
				{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
				{OptionID: "reject", Name: "Reject", Kind: "reject_once"},
			},
		})
		if err != nil {
			return Errorf("permission request failed: %v", err), nil
		}
		if res.Outcome.Outcome != "selected" || res.Outcome.OptionID != "allow" {
			return Errorf("permission denied for %s", t.Spec.Name), nil
		}
		return inner(ctx, call)
	}
	return t
}
