// Package tools defines the agent's tool surface: the descriptors advertised
// to the model and the handlers that run when the model invokes one. Typed
// constructors reflect JSON schemas from Go argument structs so a tool's
// contract lives in one place.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Call is one tool invocation requested by the model.
type Call struct {
	// ID is the model-assigned tool call id, echoed back in results.
	ID string
	// Name selects the tool.
	Name string
	// Arguments is the raw JSON argument object.
	Arguments json.RawMessage
	// SessionID identifies the conversation the call belongs to.
	SessionID string
	// WorkspaceRoot is the absolute directory filesystem tools operate
	// under. Empty when no workspace is bound.
	WorkspaceRoot string
}

// Result is what a tool hands back to the model. An IsError result feeds the
// failure text to the model so it can correct itself; it does not abort the
// turn.
type Result struct {
	Content string
	IsError bool
}

// Text builds a success result.
func Text(s string) *Result {
	return &Result{Content: s}
}

// Textf builds a formatted success result.
func Textf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...)}
}

// Errorf builds an error result.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Handler runs one invocation. A returned error is an agent-side fault and
// fails the turn; tool-level failures belong in an IsError Result.
type Handler func(ctx context.Context, call *Call) (*Result, error)

// Spec is the model-facing descriptor of a tool. Properties holds the JSON
// schema properties object; values marshal to their schema form.
type Spec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Tool pairs a descriptor with its handler.
type Tool struct {
	Spec    Spec
	Handler Handler
}

// Option configures the typed constructors.
type Option func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) Option {
	return func(c *toolConfig) { c.description = desc }
}

// WithAllowAdditionalProperties controls whether unknown argument fields are
// allowed. When false (default), decoding rejects unknown fields.
func WithAllowAdditionalProperties(allow bool) Option {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// New constructs a Tool from a typed args struct A. The input schema is
// reflected from A with invopop/jsonschema, and the handler decodes the raw
// arguments into A before invoking fn. Decode failures become IsError
// results rather than agent faults.
func New[A any](name string, fn func(ctx context.Context, call *Call, args A) (*Result, error), opts ...Option) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler := func(ctx context.Context, call *Call) (*Result, error) {
		var a A
		if len(call.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(call.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(call.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		return fn(ctx, call, a)
	}

	return Tool{
		Spec:    reflectSpec[A](name, cfg),
		Handler: handler,
	}
}

func reflectSpec[A any](name string, cfg toolConfig) Spec {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: cfg.allowAdditionalProperties,
	}
	// Reflect from a zero value pointer to capture struct tags consistently
	s := r.Reflect(new(A))

	spec := Spec{
		Name:        name,
		Description: cfg.description,
		Properties:  map[string]any{},
	}
	if s == nil || s.Type != "object" {
		return spec
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			spec.Properties[el.Key] = el.Value
		}
	}
	if len(s.Required) > 0 {
		spec.Required = append(spec.Required, s.Required...)
	}
	return spec
}

// Registry is a registration-ordered tool collection. It is safe for
// concurrent dispatch; prompts across sessions share one registry.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry builds a registry holding the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool. Re-registering a name replaces the tool but keeps
// its position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Spec.Name]; !exists {
		r.order = append(r.order, t.Spec.Name)
	}
	r.tools[t.Spec.Name] = t
}

// Specs returns the descriptors in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch runs the named tool. An unknown name is reported to the model as
// an error result, not an agent fault.
func (r *Registry) Dispatch(ctx context.Context, call *Call) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return Errorf("unknown tool: %s", call.Name), nil
	}
	return t.Handler(ctx, call)
}
