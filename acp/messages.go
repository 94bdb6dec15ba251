package acp

// Method is a protocol method identifier used in JSON-RPC messages.
type Method string

// Protocol method names and notifications.
const (
	// Client -> agent requests
	InitializeMethod    Method = "initialize"
	AuthenticateMethod  Method = "authenticate"
	SessionNewMethod    Method = "session/new"
	SessionLoadMethod   Method = "session/load"
	SessionPromptMethod Method = "session/prompt"
	CancelMethod        Method = "cancel"

	// Agent -> client notification
	SessionUpdateNotificationMethod Method = "session/update"

	// Agent -> client requests (gated on client capabilities)
	FsReadTextFileMethod           Method = "fs/read_text_file"
	FsWriteTextFileMethod          Method = "fs/write_text_file"
	SessionRequestPermissionMethod Method = "session/request_permission"
)

// ProtocolVersion is the protocol revision this agent speaks. It is
// negotiated once during initialize.
const ProtocolVersion = 1

// InitializeRequest is the capability-negotiation call that must precede
// every session method.
type InitializeRequest struct {
	ProtocolVersion    int                 `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities  `json:"clientCapabilities,omitzero"`
	ClientInfo         *ImplementationInfo `json:"clientInfo,omitempty"`
}

// InitializeResponse advertises the agent's capabilities and supported
// authentication methods.
type InitializeResponse struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AuthMethods       []AuthMethod      `json:"authMethods"`
}

// AuthenticateRequest selects one of the advertised auth methods.
type AuthenticateRequest struct {
	MethodID string `json:"methodId"`
}

// AuthenticateResponse is empty on success.
type AuthenticateResponse struct{}

// NewSessionRequest creates a session bound to a workspace. The session id is
// always allocated by the agent; clients never supply one.
type NewSessionRequest struct {
	Cwd        string            `json:"cwd"`
	Mode       SessionMode       `json:"mode,omitempty"`
	MCPServers []MCPServerConfig `json:"mcpServers,omitempty"`
}

// NewSessionResponse returns the allocated session id plus best-effort
// workspace metadata. Workspace is null when the describe call failed; the
// failure never blocks session creation.
type NewSessionResponse struct {
	SessionID string         `json:"sessionId"`
	Workspace *WorkspaceInfo `json:"workspace"`
}

// WorkspaceInfo is the metadata snapshot reported for a session's workspace.
type WorkspaceInfo struct {
	RootPath              string `json:"rootPath"`
	Branch                string `json:"branch,omitempty"`
	HasUncommittedChanges bool   `json:"hasUncommittedChanges"`
}

// LoadSessionRequest rehydrates an existing session, falling back to the
// persistence layer on a memory miss.
type LoadSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// LoadSessionResponse is empty; recent history is replayed as session/update
// notifications before the response is written.
type LoadSessionResponse struct{}

// PromptRequest submits a prompt for execution within a session. AgentContext
// carries incremental context merged into the session's context bag: scalar
// values override previous ones while the "automation" sub-object is
// deep-merged field by field.
type PromptRequest struct {
	SessionID    string         `json:"sessionId"`
	Prompt       []ContentBlock `json:"prompt"`
	AgentContext map[string]any `json:"agentContext,omitempty"`
}

// PromptResponse terminates a prompt execution. A cancelled prompt resolves
// with StopReasonCancelled rather than an error.
type PromptResponse struct {
	StopReason StopReason `json:"stopReason"`
	Usage      Usage      `json:"usage"`
}

// Usage reports token accounting for one prompt execution.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// CancelRequest cancels every in-flight operation of a session.
type CancelRequest struct {
	SessionID string `json:"sessionId"`
}

// CancelResponse reports whether anything was actually cancelled. Cancelling
// a session with no tracked operations is a no-op, not an error.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ReadTextFileRequest asks the client to read a file on its side of the
// connection.
type ReadTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResponse carries the file content.
type ReadTextFileResponse struct {
	Content string `json:"content"`
}

// WriteTextFileRequest asks the client to write a file on its side of the
// connection.
type WriteTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// WriteTextFileResponse is empty on success.
type WriteTextFileResponse struct{}

// RequestPermissionRequest asks the client to approve a tool invocation.
type RequestPermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallRef identifies the tool call a permission request is about.
type ToolCallRef struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
}

// PermissionOption is one selectable answer to a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// RequestPermissionResponse carries the client's decision.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is "selected" with the chosen option id, or "cancelled".
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}
