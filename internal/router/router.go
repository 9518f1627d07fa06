package router

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// ChainFactory builds a provider chain for a persona that pins its own
// endpoint or model.
type ChainFactory func(p *config.PersonaConfig) *providers.Chain

// Router maps channels to personas and serves their prompts and
// provider chains. Prompt files are cached until fsnotify reports a
// change in a watched workspace.
type Router struct {
	personas   []*config.PersonaConfig
	channelMap map[string]*config.PersonaConfig
	defaultP   *config.PersonaConfig
	factory    ChainFactory
	log        *slog.Logger

	mu          sync.Mutex
	promptCache map[string]string           // persona name -> assembled prompt
	chains      map[string]*providers.Chain // persona name -> pinned chain
	watcher     *fsnotify.Watcher
}

func New(cfg config.RouterConfig, factory ChainFactory, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		channelMap:  make(map[string]*config.PersonaConfig),
		factory:     factory,
		log:         log,
		promptCache: make(map[string]string),
		chains:      make(map[string]*providers.Chain),
	}
	for i := range cfg.Personas {
		p := &cfg.Personas[i]
		r.personas = append(r.personas, p)
		for _, ch := range p.ChannelIDs {
			r.channelMap[ch] = p
		}
		if p.Name == cfg.DefaultPersona {
			r.defaultP = p
		}
	}
	r.startWatcher()
	return r
}

// Active reports whether any personas are configured. When active,
// unmapped guild channels are rejected at admission.
func (r *Router) Active() bool { return len(r.personas) > 0 }

// Route returns the persona for a channel, the default persona, or nil.
func (r *Router) Route(channelID string) *config.PersonaConfig {
	if p, ok := r.channelMap[channelID]; ok {
		return p
	}
	return r.defaultP
}

// IsRouted reports whether the channel is explicitly mapped.
func (r *Router) IsRouted(channelID string) bool {
	_, ok := r.channelMap[channelID]
	return ok
}

// Authorized reports whether the user may address the persona. An
// empty authorized_users list means anyone.
func Authorized(p *config.PersonaConfig, userID string) bool {
	if p == nil || len(p.AuthorizedUsers) == 0 {
		return true
	}
	for _, id := range p.AuthorizedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// RequireMention resolves the persona's mention override against the
// global default.
func RequireMention(p *config.PersonaConfig, global bool) bool {
	if p != nil && p.RequireMention != nil {
		return *p.RequireMention
	}
	return global
}

// SystemPromptFor assembles the persona's prompt from its files,
// caching the result until the workspace changes on disk.
func (r *Router) SystemPromptFor(p *config.PersonaConfig) string {
	r.mu.Lock()
	if cached, ok := r.promptCache[p.Name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	prompt := AssemblePrompt(p.Workspace, p.SystemPromptFiles, r.log)
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s.", p.Name)
	}

	r.mu.Lock()
	r.promptCache[p.Name] = prompt
	r.mu.Unlock()
	return prompt
}

// ChainFor returns the persona's pinned provider chain, or nil when
// the persona uses the shared chain.
func (r *Router) ChainFor(p *config.PersonaConfig) *providers.Chain {
	if p == nil || (p.BaseURL == "" && p.Model == "") || r.factory == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chains[p.Name]; ok {
		return c
	}
	c := r.factory(p)
	r.chains[p.Name] = c
	return c
}

// AssemblePrompt reads prompt files from a workspace and joins them
// with a separator. Missing files are logged and skipped.
func AssemblePrompt(workspace string, files []string, log *slog.Logger) string {
	if log == nil {
		log = slog.Default()
	}
	var parts []string
	for _, name := range files {
		path := filepath.Join(config.ExpandHome(workspace), name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug("prompt file unavailable", "path", path, "error", err)
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (r *Router) startWatcher() {
	dirs := make(map[string]bool)
	for _, p := range r.personas {
		if p.Workspace != "" {
			dirs[config.ExpandHome(p.Workspace)] = true
		}
	}
	if len(dirs) == 0 {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn("prompt watcher unavailable", "error", err)
		return
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			r.log.Debug("cannot watch workspace", "dir", dir, "error", err)
		}
	}
	r.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.invalidateForDir(filepath.Dir(ev.Name))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Debug("prompt watcher error", "error", err)
			}
		}
	}()
}

func (r *Router) invalidateForDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.personas {
		if config.ExpandHome(p.Workspace) == dir {
			delete(r.promptCache, p.Name)
			r.log.Debug("prompt cache invalidated", "persona", p.Name)
		}
	}
}

// Close stops the workspace watcher.
func (r *Router) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
