package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/plugd/internal/agent"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// MemorySearchTool queries the configured memory backend. With no
// backend wired, calls return an error the model can relay.
type MemorySearchTool struct {
	Memory agent.MemoryRecaller
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Definition() providers.ToolDefinition {
	return def("memory_search",
		"Search long-term memory for entries relevant to a query.",
		map[string]any{
			"query": prop("string", "What to search for"),
			"limit": prop("integer", "Maximum results (optional, default 5)"),
		},
		[]string{"query"})
}

func (t *MemorySearchTool) Run(ctx context.Context, args map[string]any) (string, error) {
	if t.Memory == nil {
		return "", fmt.Errorf("memory backend not configured")
	}
	query, err := strArg(args, "query")
	if err != nil {
		return "", err
	}
	limit := optInt(args, "limit", 5)
	result, err := t.Memory.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if result == "" {
		return "[no matching memories]", nil
	}
	return result, nil
}

// MemoryStageTool stores a note in long-term memory.
type MemoryStageTool struct {
	Memory agent.MemoryRecaller
}

func (t *MemoryStageTool) Name() string { return "memory_stage" }

func (t *MemoryStageTool) Definition() providers.ToolDefinition {
	return def("memory_stage",
		"Stage a note for long-term memory. Use for durable facts, preferences, and decisions.",
		map[string]any{
			"content": prop("string", "The note to remember"),
		},
		[]string{"content"})
}

func (t *MemoryStageTool) Run(ctx context.Context, args map[string]any) (string, error) {
	if t.Memory == nil {
		return "", fmt.Errorf("memory backend not configured")
	}
	content, err := strArg(args, "content")
	if err != nil {
		return "", err
	}
	if err := t.Memory.Stage(ctx, content); err != nil {
		return "", err
	}
	return "staged", nil
}
