package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// Tool is one function the model can call. Run returns the string the
// model will see; errors are converted to error JSON by the registry.
type Tool interface {
	Name() string
	Definition() providers.ToolDefinition
	Run(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the tool surface and dispatches model tool calls.
// Failures never propagate to the caller; the model gets
// {"error": ...} and decides what to do next.
type Registry struct {
	order []string
	tools map[string]Tool
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), log: log}
}

func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, dup := r.tools[name]; !dup {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns tool schemas in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs one tool call and always returns a string result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	t, ok := r.tools[name]
	if !ok {
		return errorJSON(fmt.Sprintf("unknown tool: %s", name))
	}
	out, err := t.Run(ctx, args)
	if err != nil {
		r.log.Debug("tool failed", "tool", name, "error", err)
		return errorJSON(err.Error())
	}
	return out
}

func errorJSON(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// def builds a function tool definition.
func def(name, description string, properties map[string]any, required []string) providers.ToolDefinition {
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// strArg extracts a required string argument.
func strArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// optStr extracts an optional string argument.
func optStr(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// optInt extracts an optional integer argument. JSON numbers arrive as
// float64.
func optInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
