package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// ExecTool runs shell commands in the workspace under a timeout, with
// output capped to keep tool results inside the context budget.
type ExecTool struct {
	Workspace string
	Timeout   time.Duration
	MaxOutput int
}

func NewExecTool(cfg config.AgentConfig) *ExecTool {
	timeout := time.Duration(cfg.ExecTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxOutput := cfg.ExecMaxOutput
	if maxOutput <= 0 {
		maxOutput = 50_000
	}
	return &ExecTool{
		Workspace: config.ExpandHome(cfg.Workspace),
		Timeout:   timeout,
		MaxOutput: maxOutput,
	}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Definition() providers.ToolDefinition {
	return def("exec",
		"Run a shell command in the workspace. Returns combined stdout and stderr.",
		map[string]any{
			"command": prop("string", "The shell command to run"),
			"timeout": prop("integer", "Timeout in seconds (optional)"),
		},
		[]string{"command"})
}

func (t *ExecTool) Run(ctx context.Context, args map[string]any) (string, error) {
	command, err := strArg(args, "command")
	if err != nil {
		return "", err
	}

	timeout := t.Timeout
	if secs := optInt(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.Workspace
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}

	result := string(out)
	if len(result) > t.MaxOutput {
		result = result[:t.MaxOutput] + "\n[output truncated]"
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is information for the model, not a failure.
			return fmt.Sprintf("%s\n[exit status %d]", strings.TrimRight(result, "\n"), exitErr.ExitCode()), nil
		}
		return "", fmt.Errorf("exec: %w", err)
	}
	if result == "" {
		return "[no output]", nil
	}
	return result, nil
}
