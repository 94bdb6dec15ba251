// Package openai runs prompt turns against the OpenAI Chat Completions API,
// or any compatible endpoint via a base URL override. Assistant text arrives
// as one message chunk per round; tool_calls finish reasons drive a bounded
// tool loop like the Anthropic backend's.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
)

const (
	defaultModel         = "gpt-4o"
	defaultMaxToolRounds = 8
)

// Config tunes the backend. Per-session context entries "model" and
// "systemPrompt" override per turn.
type Config struct {
	Model         string
	SystemPrompt  string
	MaxToolRounds int
}

// Backend implements completion.Engine on the OpenAI API.
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
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	return &Backend{cfg: cfg, tools: reg, log: log}
}

var _ completion.Engine = (*Backend)(nil)

// Run implements completion.Engine.
func (b *Backend) Run(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
	if req.Credentials.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", completion.ErrAuthRequired)
	}

	options := []option.RequestOption{option.WithAPIKey(req.Credentials.APIKey)}
	if req.Credentials.BaseURL != "" {
		options = append(options, option.WithBaseURL(req.Credentials.BaseURL))
	}
	c := sdk.NewClient(options...)
	client := &c

	runCtx, release := tok.Bind(ctx)
	defer release()

	model, system := b.turnSettings(req.Context)
	messages := buildMessages(req, system)
	reg := b.registryFor(req)
	toolDefs := toolDefs(req.Mode, reg)

	var total completion.Usage
	for round := 0; ; round++ {
		params := sdk.ChatCompletionNewParams{
			Model:    sdk.ChatModel(model),
			Messages: messages,
		}
		if len(toolDefs) > 0 {
			params.Tools = toolDefs
		}

		resp, err := client.Chat.Completions.New(runCtx, params)
		if err != nil {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			return nil, classifyErr(err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai: response carried no choices")
		}
		choice := resp.Choices[0]
		total.Add(completion.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		})

		if choice.Message.Content != "" {
			events.MessageDelta(runCtx, choice.Message.Content)
		}

		if len(choice.Message.ToolCalls) == 0 {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			return &completion.Result{StopReason: mapFinishReason(choice.FinishReason), Usage: total}, nil
		}
		if round+1 >= b.cfg.MaxToolRounds {
			b.log.WarnContext(ctx, "openai.tool_rounds_exhausted",
				slog.String("session_id", req.SessionID),
				slog.Int("rounds", round+1),
			)
			return &completion.Result{StopReason: acp.StopReasonEndTurn, Usage: total}, nil
		}

		messages = append(messages, choice.Message.ToParam())
		for _, tc := range choice.Message.ToolCalls {
			if tok.IsCancelled() {
				return &completion.Result{StopReason: acp.StopReasonCancelled, Usage: total}, nil
			}
			res, err := b.runTool(runCtx, reg, req, events, tc)
			if err != nil {
				return nil, err
			}
			messages = append(messages, sdk.ToolMessage(res.Content, tc.ID))
		}
	}
}

// registryFor prefers the per-session tool surface carried on the request
// over the registry the backend was constructed with.
func (b *Backend) registryFor(req *completion.Request) *tools.Registry {
	if req.Tools != nil {
		return req.Tools
	}
	return b.tools
}

func (b *Backend) runTool(ctx context.Context, reg *tools.Registry, req *completion.Request, events completion.Events, tc sdk.ChatCompletionMessageToolCallUnion) (*tools.Result, error) {
	args := json.RawMessage(tc.Function.Arguments)
	events.ToolCall(ctx, tc.ID, tc.Function.Name, args)
	events.ToolCallUpdate(ctx, tc.ID, acp.ToolCallStatusInProgress, nil)

	if reg == nil {
		res := tools.Errorf("no tools available")
		events.ToolCallUpdate(ctx, tc.ID, acp.ToolCallStatusFailed, toolOutput(res))
		return res, nil
	}

	res, err := reg.Dispatch(ctx, &tools.Call{
		ID:            tc.ID,
		Name:          tc.Function.Name,
		Arguments:     args,
		SessionID:     req.SessionID,
		WorkspaceRoot: req.WorkspaceRoot,
	})
	if err != nil {
		events.ToolCallUpdate(ctx, tc.ID, acp.ToolCallStatusFailed, nil)
		return nil, fmt.Errorf("tool %s: %w", tc.Function.Name, err)
	}

	status := acp.ToolCallStatusCompleted
	if res.IsError {
		status = acp.ToolCallStatusFailed
	}
	events.ToolCallUpdate(ctx, tc.ID, status, toolOutput(res))
	return res, nil
}

func toolOutput(res *tools.Result) json.RawMessage {
	raw, err := json.Marshal(map[string]any{"content": res.Content, "isError": res.IsError})
	if err != nil {
		return nil
	}
	return raw
}

func (b *Backend) turnSettings(mergedCtx map[string]any) (model, system string) {
	model = b.cfg.Model
	system = b.cfg.SystemPrompt
	if v, ok := mergedCtx["model"].(string); ok && v != "" {
		model = v
	}
	if v, ok := mergedCtx["systemPrompt"].(string); ok && v != "" {
		system = v
	}
	return model, system
}

func toolDefs(mode acp.SessionMode, reg *tools.Registry) []sdk.ChatCompletionToolUnionParam {
	if mode != acp.SessionModeDevelopment || reg == nil || reg.Len() == 0 {
		return nil
	}
	specs := reg.Specs()
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		params := sdk.FunctionParameters{
			"type":       "object",
			"properties": s.Properties,
		}
		if len(s.Required) > 0 {
			params["required"] = s.Required
		}
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  params,
		}))
	}
	return out
}

func buildMessages(req *completion.Request, system string) []sdk.ChatCompletionMessageParamUnion {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if system != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}
	for _, turn := range req.History {
		text := turnText(turn.Content)
		if text == "" {
			continue
		}
		switch turn.Role {
		case acp.RoleUser:
			messages = append(messages, sdk.UserMessage(text))
		case acp.RoleAssistant:
			assistant := sdk.ChatCompletionMessage{Role: "assistant", Content: text}
			messages = append(messages, assistant.ToParam())
		}
	}
	messages = append(messages, sdk.UserMessage(turnText(req.Prompt)))
	return messages
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

func mapFinishReason(reason string) acp.StopReason {
	switch reason {
	case "length":
		return acp.StopReasonMaxTokens
	case "content_filter":
		return acp.StopReasonRefusal
	default:
		return acp.StopReasonEndTurn
	}
}

func classifyErr(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) && (apierr.StatusCode == 401 || apierr.StatusCode == 403) {
		return fmt.Errorf("openai: %w", completion.ErrAuthRequired)
	}
	return fmt.Errorf("openai: %w", err)
}
