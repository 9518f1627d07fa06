package providers

import "context"

// Provider is the interface all LLM providers implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams text deltas via callback.
	// Tools are not supported on the streaming path; providers ignore them.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "proxy", "ollama").
	Name() string

	// Close releases underlying transports.
	Close() error
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Model       string           `json:"model,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Message      Message `json:"message"`
	Model        string  `json:"model,omitempty"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Usage        Usage   `json:"usage"`
}

// HasToolCalls reports whether the assistant requested tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}

// Message is a single conversation message.
//
// Roles:
//
//	system:    system prompt or compaction summary
//	user:      human input
//	assistant: model output (may carry tool_calls)
//	tool:      tool result (must reference tool_call_id)
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name for role="tool"
}

// Valid reports whether the message satisfies the role invariants.
func (m Message) Valid() bool {
	switch m.Role {
	case "system", "user":
		return len(m.ToolCalls) == 0 && m.ToolCallID == ""
	case "assistant":
		return m.ToolCallID == ""
	case "tool":
		return m.ToolCallID != ""
	default:
		return false
	}
}

// ToolCall is a tool invocation requested by the model.
// Arguments are stored parsed; unparseable argument strings arrive
// as {"_raw": original}.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM, in
// OpenAI function-calling format.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema description of a function tool.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
