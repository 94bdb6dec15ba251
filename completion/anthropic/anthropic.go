// Package anthropic runs prompt turns against the Anthropic Messages API.
// Turns stream token by token, and tool_use stop reasons drive a bounded
// tool loop: execute the requested tools, feed the results back, continue
// until the model ends its turn.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
)

const (
	defaultModel         = "claude-sonnet-4-6"
	defaultMaxTokens     = 4096
	defaultMaxToolRounds = 8
)

// Config tunes the backend. Zero values fall back to defaults; per-session
// context entries "model", "systemPrompt" and "maxTokens" override per turn.
type Config struct {
	Model         string
	MaxTokens     int64
	SystemPrompt  string
	MaxToolRounds int
}

// Backend implements completion.Engine on the Anthropic API.
type Backend struct {
	cfg   Config
	tools *tools.Registry
	log   *slog.Logger
}

// New builds a backend. reg may be nil for a tool-free agent.
func New(cfg Config, reg *tools.Registry, log *slog.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	return &Backend{cfg: cfg, tools: reg, log: log}
}

var _ completion.Engine = (*Backend)(nil)

// Run implements completion.Engine.
func (b *Backend) Run(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
	if req.Credentials.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", completion.ErrAuthRequired)
	}

	opts := []option.RequestOption{option.WithAPIKey(req.Credentials.APIKey)}
	if req.Credentials.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.Credentials.BaseURL))
	}
	client := sdk.NewClient(opts...)

	// A fired token aborts the in-flight HTTP stream through the bound
	// context.
	runCtx, release := tok.Bind(ctx)
	defer release()

	model, system, maxTokens := b.turnSettings(req.Context)
	messages := buildMessages(req)
	reg := b.registryFor(req)
	toolDefs := toolDefs(req.Mode, reg)

	var total completion.Usage
	for round := 0; ; round++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(model),
			MaxTokens: maxTokens,
			Messages:  messages,
		}
		if system != "" {
			params.System = []sdk.TextBlockParam{{Text: system}}
		}
		if len(toolDefs) > 0 {
			params.Tools = toolDefs
		}

		msg, err := b.streamOne(runCtx, &client, params, events)
		if err != nil {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			return nil, classifyErr(err)
		}
		total.Add(completion.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		})

		toolUses := collectToolUses(msg)
		if len(toolUses) == 0 || msg.StopReason != sdk.StopReasonToolUse {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			return &completion.Result{StopReason: mapStopReason(msg.StopReason), Usage: total}, nil
		}
		if round+1 >= b.cfg.MaxToolRounds {
			b.log.WarnContext(ctx, "anthropic.tool_rounds_exhausted",
				slog.String("session_id", req.SessionID),
				slog.Int("rounds", round+1),
			)
			return &completion.Result{StopReason: acp.StopReasonEndTurn, Usage: total}, nil
		}

		messages = append(messages, assistantParam(msg))

		var resultBlocks []sdk.ContentBlockParamUnion
		for _, use := range toolUses {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			res, err := b.runTool(runCtx, reg, req, events, use)
			if err != nil {
				return nil, err
			}
			resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(use.ID, res.Content, res.IsError))
		}
		messages = append(messages, sdk.NewUserMessage(resultBlocks...))
	}
}

// streamOne issues a single streaming Messages call, forwarding deltas as
// they arrive, and returns the accumulated message.
func (b *Backend) streamOne(ctx context.Context, client *sdk.Client, params sdk.MessageNewParams, events completion.Events) (*sdk.Message, error) {
	stream := client.Messages.NewStreaming(ctx, params)

	var msg sdk.Message
	for stream.Next() {
		event := stream.Current()
		_ = msg.Accumulate(event)

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				events.ToolCall(ctx, event.ContentBlock.ID, event.ContentBlock.Name, nil)
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				events.MessageDelta(ctx, event.Delta.Text)
			case "thinking_delta":
				events.ThoughtDelta(ctx, event.Delta.Thinking)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// registryFor prefers the per-session tool surface carried on the request
// over the registry the backend was constructed with.
func (b *Backend) registryFor(req *completion.Request) *tools.Registry {
	if req.Tools != nil {
		return req.Tools
	}
	return b.tools
}

func (b *Backend) runTool(ctx context.Context, reg *tools.Registry, req *completion.Request, events completion.Events, use sdk.ToolUseBlock) (*tools.Result, error) {
	events.ToolCallUpdate(ctx, use.ID, acp.ToolCallStatusInProgress, nil)

	if reg == nil {
		res := tools.Errorf("no tools available")
		events.ToolCallUpdate(ctx, use.ID, acp.ToolCallStatusFailed, toolOutput(res))
		return res, nil
	}

	res, err := reg.Dispatch(ctx, &tools.Call{
		ID:            use.ID,
		Name:          use.Name,
		Arguments:     json.RawMessage(use.Input),
		SessionID:     req.SessionID,
		WorkspaceRoot: req.WorkspaceRoot,
	})
	if err != nil {
		events.ToolCallUpdate(ctx, use.ID, acp.ToolCallStatusFailed, nil)
		return nil, fmt.Errorf("tool %s: %w", use.Name, err)
	}

	status := acp.ToolCallStatusCompleted
	if res.IsError {
		status = acp.ToolCallStatusFailed
	}
	events.ToolCallUpdate(ctx, use.ID, status, toolOutput(res))
	return res, nil
}

func toolOutput(res *tools.Result) json.RawMessage {
	raw, err := json.Marshal(map[string]any{"content": res.Content, "isError": res.IsError})
	if err != nil {
		return nil
	}
	return raw
}

// turnSettings resolves the effective model parameters for this turn from
// the merged session context.
func (b *Backend) turnSettings(mergedCtx map[string]any) (model, system string, maxTokens int64) {
	model = b.cfg.Model
	system = b.cfg.SystemPrompt
	maxTokens = b.cfg.MaxTokens

	if v, ok := mergedCtx["model"].(string); ok && v != "" {
		model = v
	}
	if v, ok := mergedCtx["systemPrompt"].(string); ok && v != "" {
		system = v
	}
	switch v := mergedCtx["maxTokens"].(type) {
	case float64:
		if v > 0 {
			maxTokens = int64(v)
		}
	case int:
		if v > 0 {
			maxTokens = int64(v)
		}
	}
	return model, system, maxTokens
}

func toolDefs(mode acp.SessionMode, reg *tools.Registry) []sdk.ToolUnionParam {
	if mode != acp.SessionModeDevelopment || reg == nil || reg.Len() == 0 {
		return nil
	}
	specs := reg.Specs()
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        s.Name,
				Description: param.NewOpt(s.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: s.Properties,
				},
			},
		})
	}
	return out
}

// buildMessages renders history plus the new prompt in API order.
func buildMessages(req *completion.Request) []sdk.MessageParam {
	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		text := turnText(turn.Content)
		if text == "" {
			continue
		}
		switch turn.Role {
		case acp.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		case acp.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		}
	}

	var promptBlocks []sdk.ContentBlockParamUnion
	for _, block := range req.Prompt {
		if block.Type == acp.ContentTypeText && block.Text != "" {
			promptBlocks = append(promptBlocks, sdk.NewTextBlock(block.Text))
		}
	}
	if len(promptBlocks) == 0 {
		promptBlocks = append(promptBlocks, sdk.NewTextBlock(""))
	}
	messages = append(messages, sdk.NewUserMessage(promptBlocks...))
	return messages
}

// assistantParam rebuilds the assistant turn from an accumulated message so
// the tool loop can extend the conversation.
func assistantParam(msg *sdk.Message) sdk.MessageParam {
	var blocks []sdk.ContentBlockParamUnion
	for _, content := range msg.Content {
		switch c := content.AsAny().(type) {
		case sdk.TextBlock:
			if c.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(c.Text))
			}
		case sdk.ToolUseBlock:
			blocks = append(blocks, sdk.NewToolUseBlock(c.ID, json.RawMessage(c.Input), c.Name))
		}
	}
	return sdk.NewAssistantMessage(blocks...)
}

func collectToolUses(msg *sdk.Message) []sdk.ToolUseBlock {
	var uses []sdk.ToolUseBlock
	for _, content := range msg.Content {
		if use, ok := content.AsAny().(sdk.ToolUseBlock); ok {
			uses = append(uses, use)
		}
	}
	return uses
}

func turnText(blocks []acp.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == acp.ContentTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func mapStopReason(reason sdk.StopReason) acp.StopReason {
	switch reason {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence, sdk.StopReasonToolUse:
		return acp.StopReasonEndTurn
	case sdk.StopReasonMaxTokens:
		return acp.StopReasonMaxTokens
	default:
		if string(reason) == "refusal" {
			return acp.StopReasonRefusal
		}
		return acp.StopReasonEndTurn
	}
}

func classifyErr(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) && (apierr.StatusCode == 401 || apierr.StatusCode == 403) {
		return fmt.Errorf("anthropic: %w", completion.ErrAuthRequired)
	}
	return fmt.Errorf("anthropic: %w", err)
}
