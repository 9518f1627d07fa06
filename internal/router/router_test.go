package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

func boolPtr(b bool) *bool { return &b }

func testRouter(t *testing.T, cfg config.RouterConfig, factory ChainFactory) *Router {
	t.Helper()
	r := New(cfg, factory, nil)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRoute(t *testing.T) {
	cfg := config.RouterConfig{
		Personas: []config.PersonaConfig{
			{Name: "ops", ChannelIDs: []string{"chan-ops"}},
			{Name: "support", ChannelIDs: []string{"chan-help", "chan-help2"}},
		},
		DefaultPersona: "ops",
	}
	r := testRouter(t, cfg, nil)

	if !r.Active() {
		t.Error("router with personas should be active")
	}
	if p := r.Route("chan-help"); p == nil || p.Name != "support" {
		t.Errorf("Route(chan-help) = %v", p)
	}
	if p := r.Route("unmapped"); p == nil || p.Name != "ops" {
		t.Errorf("Route(unmapped) = %v, want default persona", p)
	}
	if r.IsRouted("unmapped") {
		t.Error("unmapped channel reported as routed")
	}
	if !r.IsRouted("chan-ops") {
		t.Error("mapped channel not reported as routed")
	}
}

func TestRouteNoDefault(t *testing.T) {
	cfg := config.RouterConfig{
		Personas: []config.PersonaConfig{{Name: "ops", ChannelIDs: []string{"c1"}}},
	}
	r := testRouter(t, cfg, nil)
	if p := r.Route("other"); p != nil {
		t.Errorf("Route(other) = %v, want nil", p)
	}
}

func TestEmptyRouterInactive(t *testing.T) {
	r := testRouter(t, config.RouterConfig{}, nil)
	if r.Active() {
		t.Error("empty router reported active")
	}
	if p := r.Route("anything"); p != nil {
		t.Errorf("Route = %v, want nil", p)
	}
}

func TestAuthorized(t *testing.T) {
	open := &config.PersonaConfig{Name: "open"}
	locked := &config.PersonaConfig{Name: "locked", AuthorizedUsers: []string{"u1", "u2"}}

	tests := []struct {
		name    string
		persona *config.PersonaConfig
		user    string
		want    bool
	}{
		{"nil persona", nil, "anyone", true},
		{"empty list allows all", open, "anyone", true},
		{"listed user", locked, "u2", true},
		{"unlisted user", locked, "u3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorized(tt.persona, tt.user); got != tt.want {
				t.Errorf("Authorized = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireMention(t *testing.T) {
	if !RequireMention(nil, true) {
		t.Error("nil persona should inherit global true")
	}
	if RequireMention(&config.PersonaConfig{}, false) {
		t.Error("unset override should inherit global false")
	}
	if RequireMention(&config.PersonaConfig{RequireMention: boolPtr(false)}, true) {
		t.Error("explicit false override ignored")
	}
	if !RequireMention(&config.PersonaConfig{RequireMention: boolPtr(true)}, false) {
		t.Error("explicit true override ignored")
	}
}

func TestSystemPromptFor(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("You are the ops bot."), 0644)
	os.WriteFile(filepath.Join(dir, "TOOLS.md"), []byte("Prefer rg over grep."), 0644)

	p := config.PersonaConfig{
		Name:              "ops",
		ChannelIDs:        []string{"c1"},
		Workspace:         dir,
		SystemPromptFiles: []string{"SOUL.md", "MISSING.md", "TOOLS.md"},
	}
	r := testRouter(t, config.RouterConfig{Personas: []config.PersonaConfig{p}}, nil)

	got := r.SystemPromptFor(r.Route("c1"))
	if !strings.Contains(got, "ops bot") || !strings.Contains(got, "rg over grep") {
		t.Errorf("prompt = %q", got)
	}
	if !strings.Contains(got, "\n\n---\n\n") {
		t.Errorf("prompt missing separator: %q", got)
	}

	// Second call hits the cache.
	if again := r.SystemPromptFor(r.Route("c1")); again != got {
		t.Error("cached prompt differs")
	}
}

func TestSystemPromptFallback(t *testing.T) {
	p := config.PersonaConfig{
		Name:              "ghost",
		ChannelIDs:        []string{"c1"},
		Workspace:         t.TempDir(),
		SystemPromptFiles: []string{"NOPE.md"},
	}
	r := testRouter(t, config.RouterConfig{Personas: []config.PersonaConfig{p}}, nil)

	got := r.SystemPromptFor(r.Route("c1"))
	if got != "You are ghost." {
		t.Errorf("fallback prompt = %q", got)
	}
}

func TestChainFor(t *testing.T) {
	calls := 0
	factory := func(p *config.PersonaConfig) *providers.Chain {
		calls++
		prov := providers.NewProxyProvider("persona", p.BaseURL, "", p.Model, 0)
		return providers.NewChain(prov, []string{p.Model}, nil, 1, 0, nil)
	}

	pinned := config.PersonaConfig{Name: "pinned", ChannelIDs: []string{"c1"}, BaseURL: "http://localhost:9999/v1", Model: "m1"}
	shared := config.PersonaConfig{Name: "shared", ChannelIDs: []string{"c2"}}
	r := testRouter(t, config.RouterConfig{Personas: []config.PersonaConfig{pinned, shared}}, factory)

	c1 := r.ChainFor(r.Route("c1"))
	if c1 == nil {
		t.Fatal("pinned persona got nil chain")
	}
	if c2 := r.ChainFor(r.Route("c1")); c2 != c1 {
		t.Error("chain not cached")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
	if got := r.ChainFor(r.Route("c2")); got != nil {
		t.Errorf("unpinned persona got chain %v, want nil", got)
	}
}

func TestPromptCacheInvalidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SOUL.md")
	os.WriteFile(path, []byte("version one"), 0644)

	p := config.PersonaConfig{
		Name: "ops", ChannelIDs: []string{"c1"},
		Workspace: dir, SystemPromptFiles: []string{"SOUL.md"},
	}
	r := testRouter(t, config.RouterConfig{Personas: []config.PersonaConfig{p}}, nil)

	first := r.SystemPromptFor(r.Route("c1"))
	if !strings.Contains(first, "version one") {
		t.Fatalf("prompt = %q", first)
	}

	// Simulate the watcher event directly; fsnotify delivery timing is
	// not reliable in CI.
	os.WriteFile(path, []byte("version two"), 0644)
	r.invalidateForDir(dir)

	second := r.SystemPromptFor(r.Route("c1"))
	if !strings.Contains(second, "version two") {
		t.Errorf("prompt after invalidation = %q", second)
	}
}
