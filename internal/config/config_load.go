package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Models: ModelsConfig{
			Primary:     "claude-opus-4.6",
			Fallbacks:   []string{"gpt-5.2", "gemini-3-pro"},
			Proxy: ProxyConfig{
				BaseURL: "http://localhost:3000/v1",
				APIKey:  "n/a",
				Timeout: 120,
			},
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  2,
			RetryDelay:  1.0,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Timeout: 120,
		},
		Discord: DiscordConfig{
			RequireMention:   true,
			DMPolicy:         "allowlist",
			StatusMessage:    "plugd online",
			MaxMessageLength: 2000,
		},
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, "workspace"),
			SystemPromptFiles: []string{"SOUL.md", "AGENTS.md", "USER.md", "IDENTITY.md", "TOOLS.md"},
			ExecTimeout:       30,
			ExecMaxOutput:     50_000,
			MaxSubagents:      5,
			MaxToolRounds:     40,
		},
		Compaction: CompactionConfig{
			Enabled:          true,
			MaxContextTokens: 100_000,
			TargetTokens:     60_000,
		},
		Daemon: DaemonConfig{
			AutoRestart:   true,
			MaxRestarts:   5,
			RestartWindow: 300,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "plugd",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("PLUGD_DISCORD_TOKEN", &c.Discord.Token)
	envStr("PLUGD_PROXY_BASE_URL", &c.Models.Proxy.BaseURL)
	envStr("PLUGD_PROXY_API_KEY", &c.Models.Proxy.APIKey)
	envStr("PLUGD_MODEL", &c.Models.Primary)
	envStr("PLUGD_WORKSPACE", &c.Agent.Workspace)
	envStr("PLUGD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("PLUGD_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config as indented JSON, creating the config dir if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
