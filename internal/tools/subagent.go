package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/agent"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// SpawnAgentTool starts a background sub-agent on the current channel.
type SpawnAgentTool struct {
	Manager *agent.SubAgentManager
}

func (t *SpawnAgentTool) Name() string { return "spawn_agent" }

func (t *SpawnAgentTool) Definition() providers.ToolDefinition {
	return def("spawn_agent",
		"Spawn a background sub-agent to work on a task. Returns immediately; the result is posted to this channel when done.",
		map[string]any{
			"task":    prop("string", "The task for the sub-agent"),
			"label":   prop("string", "Short label for status messages (optional)"),
			"model":   prop("string", "Model override (optional)"),
			"timeout": prop("integer", "Timeout in seconds (optional, default 300)"),
		},
		[]string{"task"})
}

func (t *SpawnAgentTool) Run(ctx context.Context, args map[string]any) (string, error) {
	task, err := strArg(args, "task")
	if err != nil {
		return "", err
	}
	channelID := agent.ChannelIDFrom(ctx)
	if channelID == "" {
		return "", fmt.Errorf("no origin channel for sub-agent")
	}

	timeout := time.Duration(optInt(args, "timeout", 0)) * time.Second
	id := t.Manager.Spawn(ctx, task, channelID, optStr(args, "model"), optStr(args, "label"), timeout)

	data, _ := json.Marshal(map[string]string{"agent_id": id, "status": "pending"})
	return string(data), nil
}

// ListAgentsTool reports sub-agents on the current channel.
type ListAgentsTool struct {
	Manager *agent.SubAgentManager
}

func (t *ListAgentsTool) Name() string { return "list_agents" }

func (t *ListAgentsTool) Definition() providers.ToolDefinition {
	return def("list_agents",
		"List sub-agents spawned from this channel and their status.",
		map[string]any{}, nil)
}

func (t *ListAgentsTool) Run(ctx context.Context, args map[string]any) (string, error) {
	list := t.Manager.List(agent.ChannelIDFrom(ctx))
	if len(list) == 0 {
		return "[no sub-agents]", nil
	}

	type entry struct {
		ID     string `json:"agent_id"`
		Label  string `json:"label"`
		Status string `json:"status"`
		Task   string `json:"task"`
	}
	out := make([]entry, 0, len(list))
	for _, sa := range list {
		task := sa.Task
		if len(task) > 120 {
			task = task[:120] + "..."
		}
		out = append(out, entry{ID: sa.ID, Label: sa.Label, Status: string(sa.Status), Task: task})
	}
	data, _ := json.Marshal(out)
	return string(data), nil
}

// CancelAgentTool stops a running sub-agent.
type CancelAgentTool struct {
	Manager *agent.SubAgentManager
}

func (t *CancelAgentTool) Name() string { return "cancel_agent" }

func (t *CancelAgentTool) Definition() providers.ToolDefinition {
	return def("cancel_agent",
		"Cancel a pending or running sub-agent by id.",
		map[string]any{
			"agent_id": prop("string", "The sub-agent id to cancel"),
		},
		[]string{"agent_id"})
}

func (t *CancelAgentTool) Run(ctx context.Context, args map[string]any) (string, error) {
	id, err := strArg(args, "agent_id")
	if err != nil {
		return "", err
	}
	if !t.Manager.Cancel(id) {
		return "", fmt.Errorf("sub-agent %s is not active", id)
	}
	return "cancelled", nil
}
