package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

const maxReadBytes = 100_000

// resolvePath expands ~ and makes relative paths workspace-relative.
func resolvePath(workspace, path string) string {
	path = config.ExpandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

// ReadFileTool returns file contents, truncated past maxReadBytes.
type ReadFileTool struct {
	Workspace string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Definition() providers.ToolDefinition {
	return def("read_file",
		"Read a file. Relative paths resolve against the workspace.",
		map[string]any{
			"path": prop("string", "Path to the file"),
		},
		[]string{"path"})
}

func (t *ReadFileTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path, err := strArg(args, "path")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolvePath(t.Workspace, path))
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[file truncated]", nil
	}
	return string(data), nil
}

// WriteFileTool writes content, creating parent directories.
type WriteFileTool struct {
	Workspace string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Definition() providers.ToolDefinition {
	return def("write_file",
		"Write content to a file, creating parent directories as needed. Overwrites existing files.",
		map[string]any{
			"path":    prop("string", "Path to the file"),
			"content": prop("string", "Content to write"),
		},
		[]string{"path", "content"})
}

func (t *WriteFileTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path, err := strArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := strArg(args, "content")
	if err != nil {
		return "", err
	}

	full := resolvePath(t.Workspace, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), full), nil
}

// EditFileTool replaces an exact string in a file.
type EditFileTool struct {
	Workspace string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Definition() providers.ToolDefinition {
	return def("edit_file",
		"Replace the first occurrence of old_string in a file with new_string. old_string must match exactly.",
		map[string]any{
			"path":       prop("string", "Path to the file"),
			"old_string": prop("string", "Exact text to replace"),
			"new_string": prop("string", "Replacement text"),
		},
		[]string{"path", "old_string", "new_string"})
}

func (t *EditFileTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path, err := strArg(args, "path")
	if err != nil {
		return "", err
	}
	oldStr, err := strArg(args, "old_string")
	if err != nil {
		return "", err
	}
	newStr, err := strArg(args, "new_string")
	if err != nil {
		return "", err
	}
	if oldStr == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}

	full := resolvePath(t.Workspace, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	text := string(data)
	if !strings.Contains(text, oldStr) {
		return "", fmt.Errorf("old_string not found in %s", full)
	}
	text = strings.Replace(text, oldStr, newStr, 1)
	if err := os.WriteFile(full, []byte(text), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", full), nil
}

// ListDirTool lists directory entries; directories get a trailing /.
type ListDirTool struct {
	Workspace string
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Definition() providers.ToolDefinition {
	return def("list_dir",
		"List the entries of a directory. Defaults to the workspace root.",
		map[string]any{
			"path": prop("string", "Directory to list (optional)"),
		},
		nil)
}

func (t *ListDirTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path := optStr(args, "path")
	if path == "" {
		path = "."
	}
	full := resolvePath(t.Workspace, path)

	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "[empty directory]", nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
