package acp

import (
	"encoding/json"
	"time"
)

// SessionMode selects how a session drives the completion engine.
type SessionMode string

const (
	// SessionModeDevelopment runs prompts with the full tool set so the model
	// can mutate the workspace.
	SessionModeDevelopment SessionMode = "development"
	// SessionModeConversation runs prompts without tools; the model can only
	// talk.
	SessionModeConversation SessionMode = "conversation"
)

// IsValidSessionMode reports whether the provided mode is one of the
// protocol-defined session modes.
func IsValidSessionMode(mode SessionMode) bool {
	switch mode {
	case SessionModeDevelopment, SessionModeConversation:
		return true
	default:
		return false
	}
}

// StopReason explains why a prompt execution ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonRefusal   StopReason = "refusal"
	StopReasonCancelled StopReason = "cancelled"
)

// Capabilities
// ClientCapabilities advertises client features recorded during initialize.
type ClientCapabilities struct {
	FS FSCapabilities `json:"fs,omitzero"`
}

// FSCapabilities describes which client-side filesystem calls are available.
type FSCapabilities struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// AgentCapabilities advertises agent features.
type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

// PromptCapabilities describes the content kinds accepted in prompts.
type PromptCapabilities struct {
	Audio           bool `json:"audio"`
	Image           bool `json:"image"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// AuthMethod describes one way the caller can authenticate the completion
// backend.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ImplementationInfo describes an implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// MCPServerConfig declares an MCP server the session wants connected.
type MCPServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []EnvVar `json:"env,omitempty"`
}

// EnvVar is a single environment variable handed to a spawned MCP server.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Content types
// ContentBlock is a typed content part of a message.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text block
	Text string `json:"text,omitempty"`

	// Resource link block
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`

	// Shared
	MimeType string `json:"mimeType,omitempty"`
}

// ContentType discriminates ContentBlock variants.
type ContentType string

const (
	ContentTypeText         ContentType = "text"
	ContentTypeResourceLink ContentType = "resource_link"
)

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// Role indicates the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's message history.
type Turn struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
	At      time.Time      `json:"at,omitzero"`
}

// Session updates
// UpdateKind discriminates the session/update family.
type UpdateKind string

const (
	UpdateKindUserMessageChunk        UpdateKind = "user_message_chunk"
	UpdateKindAgentMessageChunk       UpdateKind = "agent_message_chunk"
	UpdateKindAgentThoughtChunk       UpdateKind = "agent_thought_chunk"
	UpdateKindToolCall                UpdateKind = "tool_call"
	UpdateKindToolCallUpdate          UpdateKind = "tool_call_update"
	UpdateKindPlan                    UpdateKind = "plan"
	UpdateKindAvailableCommandsUpdate UpdateKind = "available_commands_update"
)

// ToolCallStatus tracks the lifecycle of a streamed tool call.
type ToolCallStatus string

const (
	ToolCallStatusPending    ToolCallStatus = "pending"
	ToolCallStatusInProgress ToolCallStatus = "in_progress"
	ToolCallStatusCompleted  ToolCallStatus = "completed"
	ToolCallStatusFailed     ToolCallStatus = "failed"
)

// SessionUpdate is the discriminated body of a session/update notification.
type SessionUpdate struct {
	Kind UpdateKind `json:"sessionUpdate"`

	// Message and thought chunks
	Content *ContentBlock `json:"content,omitempty"`

	// Tool call lifecycle
	ToolCallID string          `json:"toolCallId,omitempty"`
	Title      string          `json:"title,omitempty"`
	ToolKind   string          `json:"kind,omitempty"`
	Status     ToolCallStatus  `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`

	// Plan updates
	Entries []PlanEntry `json:"entries,omitempty"`

	// Command advertisement
	AvailableCommands []AvailableCommand `json:"availableCommands,omitempty"`
}

// PlanEntry is one step of an agent-announced execution plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// AvailableCommand advertises a slash-command style entry point to clients.
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionNotification is the envelope of every session/update notification.
// SequenceNumber and Timestamp are assigned by the emitter at send time, so
// they reflect actual emission order even when updates are produced
// concurrently.
type SessionNotification struct {
	SessionID      string        `json:"sessionId"`
	SequenceNumber uint64        `json:"sequenceNumber,omitempty"`
	Timestamp      time.Time     `json:"timestamp,omitzero"`
	Update         SessionUpdate `json:"update"`
}

// AgentMessageChunk builds the update for a streamed piece of assistant
// output.
func AgentMessageChunk(text string) SessionUpdate {
	block := NewTextBlock(text)
	return SessionUpdate{Kind: UpdateKindAgentMessageChunk, Content: &block}
}

// AgentThoughtChunk builds the update for a streamed piece of assistant
// reasoning.
func AgentThoughtChunk(text string) SessionUpdate {
	block := NewTextBlock(text)
	return SessionUpdate{Kind: UpdateKindAgentThoughtChunk, Content: &block}
}

// UserMessageChunk builds the update used when replaying stored user turns.
func UserMessageChunk(text string) SessionUpdate {
	block := NewTextBlock(text)
	return SessionUpdate{Kind: UpdateKindUserMessageChunk, Content: &block}
}
