package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the agent.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal error while handling the request.
	ErrorCodeInternalError ErrorCode = -32603
)

// Agent-level error codes carried in the server-defined range. These are part
// of the protocol surface: clients switch on them to drive login flows, retry
// policy, and busy-session handling.
const (
	// ErrorCodeAuthRequired indicates the completion backend rejected the
	// caller's credentials and a (re-)authentication flow is needed.
	ErrorCodeAuthRequired ErrorCode = -32000
	// ErrorCodeSessionNotFound indicates the sessionId resolved neither in
	// memory nor in the persistence layer.
	ErrorCodeSessionNotFound ErrorCode = -32001
	// ErrorCodeNotInitialized indicates a session method arrived before
	// initialize completed.
	ErrorCodeNotInitialized ErrorCode = -32002
	// ErrorCodeOperationInProgress indicates the single-flight guard refused a
	// prompt because the session already has an in-flight operation.
	ErrorCodeOperationInProgress ErrorCode = -32003
)
