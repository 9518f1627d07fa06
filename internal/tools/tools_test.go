package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

type echoTool struct{ name string }

func (t *echoTool) Name() string { return t.name }
func (t *echoTool) Definition() providers.ToolDefinition {
	return def(t.name, "echo", map[string]any{"v": prop("string", "value")}, nil)
}
func (t *echoTool) Run(ctx context.Context, args map[string]any) (string, error) {
	return optStr(args, "v"), nil
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "echo"})

	got := r.Execute(context.Background(), "echo", map[string]any{"v": "hi"})
	if got != "hi" {
		t.Errorf("Execute = %q", got)
	}

	got = r.Execute(context.Background(), "nope", nil)
	var e map[string]string
	if err := json.Unmarshal([]byte(got), &e); err != nil {
		t.Fatalf("unknown tool result not JSON: %q", got)
	}
	if !strings.Contains(e["error"], "unknown tool") {
		t.Errorf("error = %q", e["error"])
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "b"})
	r.Register(&echoTool{name: "a"})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "b" || defs[1].Function.Name != "a" {
		t.Errorf("definitions = %v", defs)
	}
}

func TestExecTool(t *testing.T) {
	tool := NewExecTool(config.AgentConfig{Workspace: t.TempDir(), ExecTimeout: 5, ExecMaxOutput: 100})

	t.Run("stdout", func(t *testing.T) {
		got, err := tool.Run(context.Background(), map[string]any{"command": "echo hello"})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if strings.TrimSpace(got) != "hello" {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("nonzero exit is not an error", func(t *testing.T) {
		got, err := tool.Run(context.Background(), map[string]any{"command": "echo oops; exit 3"})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !strings.Contains(got, "oops") || !strings.Contains(got, "[exit status 3]") {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("output cap", func(t *testing.T) {
		got, err := tool.Run(context.Background(), map[string]any{"command": "yes x | head -c 500"})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !strings.HasSuffix(got, "[output truncated]") {
			t.Errorf("output not truncated: %d chars", len(got))
		}
	})

	t.Run("timeout", func(t *testing.T) {
		fast := NewExecTool(config.AgentConfig{Workspace: t.TempDir(), ExecTimeout: 1})
		start := time.Now()
		_, err := fast.Run(context.Background(), map[string]any{"command": "sleep 10"})
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("err = %v", err)
		}
		if time.Since(start) > 5*time.Second {
			t.Error("timeout did not kill the command")
		}
	})

	t.Run("missing command arg", func(t *testing.T) {
		if _, err := tool.Run(context.Background(), map[string]any{}); err == nil {
			t.Error("want error for missing command")
		}
	})
}

func TestFilesystemTools(t *testing.T) {
	ws := t.TempDir()
	read := &ReadFileTool{Workspace: ws}
	write := &WriteFileTool{Workspace: ws}
	edit := &EditFileTool{Workspace: ws}
	list := &ListDirTool{Workspace: ws}
	ctx := context.Background()

	if _, err := write.Run(ctx, map[string]any{"path": "sub/notes.txt", "content": "alpha beta"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := read.Run(ctx, map[string]any{"path": "sub/notes.txt"})
	if err != nil || got != "alpha beta" {
		t.Fatalf("read = %q, %v", got, err)
	}

	if _, err := edit.Run(ctx, map[string]any{"path": "sub/notes.txt", "old_string": "beta", "new_string": "gamma"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got, _ = read.Run(ctx, map[string]any{"path": "sub/notes.txt"})
	if got != "alpha gamma" {
		t.Errorf("after edit = %q", got)
	}

	if _, err := edit.Run(ctx, map[string]any{"path": "sub/notes.txt", "old_string": "missing", "new_string": "x"}); err == nil {
		t.Error("edit with absent old_string should fail")
	}

	got, err = list.Run(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(got, "sub/") {
		t.Errorf("list = %q", got)
	}

	if _, err := read.Run(ctx, map[string]any{"path": "absent.txt"}); err == nil {
		t.Error("reading a missing file should fail")
	}
}

func TestResolvePath(t *testing.T) {
	ws := "/work"
	if got := resolvePath(ws, "notes.txt"); got != filepath.Join(ws, "notes.txt") {
		t.Errorf("relative = %q", got)
	}
	if got := resolvePath(ws, "/etc/hosts"); got != "/etc/hosts" {
		t.Errorf("absolute = %q", got)
	}
	home, _ := os.UserHomeDir()
	if got := resolvePath(ws, "~/x"); got != filepath.Join(home, "x") {
		t.Errorf("home = %q", got)
	}
}

func TestWebFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page body"))
	}))
	defer srv.Close()

	tool := NewWebFetchTool()
	got, err := tool.Run(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(got, "HTTP 200") || !strings.Contains(got, "page body") {
		t.Errorf("output = %q", got)
	}

	if _, err := tool.Run(context.Background(), map[string]any{"url": "ftp://nope"}); err == nil {
		t.Error("non-http scheme should fail")
	}
}

func TestMemoryToolsUnconfigured(t *testing.T) {
	search := &MemorySearchTool{}
	if _, err := search.Run(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Error("search without backend should fail")
	}
	stage := &MemoryStageTool{}
	if _, err := stage.Run(context.Background(), map[string]any{"content": "x"}); err == nil {
		t.Error("stage without backend should fail")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"s": "str", "n": float64(7), "b": true}

	if v, err := strArg(args, "s"); err != nil || v != "str" {
		t.Errorf("strArg = %q, %v", v, err)
	}
	if _, err := strArg(args, "n"); err == nil {
		t.Error("strArg on number should fail")
	}
	if _, err := strArg(args, "missing"); err == nil {
		t.Error("strArg on missing key should fail")
	}
	if v := optInt(args, "n", 0); v != 7 {
		t.Errorf("optInt = %d", v)
	}
	if v := optInt(args, "missing", 42); v != 42 {
		t.Errorf("optInt fallback = %d", v)
	}
	if v := optStr(args, "missing"); v != "" {
		t.Errorf("optStr fallback = %q", v)
	}
}
