package acp

import "fmt"

// NotInitializedError indicates a session method arrived before initialize.
// The dispatcher maps it to the agent-not-initialized wire code.
type NotInitializedError struct {
	Method string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("agent not initialized: %s must be preceded by initialize", e.Method)
}

// SessionNotFoundError indicates the sessionId resolved neither in memory nor
// in the persistence layer.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// OperationInProgressError indicates the single-flight guard refused a prompt
// because the session already has in-flight work. BusyOperations is surfaced
// as structured data so callers can decide between retrying and cancelling.
type OperationInProgressError struct {
	SessionID      string
	BusyOperations int
}

func (e *OperationInProgressError) Error() string {
	return fmt.Sprintf("operation already in progress for session %s (%d busy)", e.SessionID, e.BusyOperations)
}

// AuthRequiredError indicates the completion backend rejected the caller's
// credentials. It is surfaced verbatim so clients can trigger their login
// flow; Methods carries the advertised auth methods when known.
type AuthRequiredError struct {
	Methods []AuthMethod
}

func (e *AuthRequiredError) Error() string {
	return "authentication required"
}

// InvalidParamsError indicates handler-level validation failed.
type InvalidParamsError struct {
	Field  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid parameters: %s", e.Reason)
}
