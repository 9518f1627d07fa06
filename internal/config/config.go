package config

import (
	"os"
	"path/filepath"
)

// Dir returns the per-user config directory (~/.plugd).
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".plugd")
}

// File paths under the config directory.
func ConfigFile() string   { return filepath.Join(Dir(), "config.json") }
func SessionsDB() string   { return filepath.Join(Dir(), "sessions.db") }
func CronDB() string       { return filepath.Join(Dir(), "cron.db") }
func PidFile() string      { return filepath.Join(Dir(), "plugd.pid") }
func LogFile() string      { return filepath.Join(Dir(), "plugd.log") }

// ProxyConfig points at the OpenAI-compatible proxy endpoint.
type ProxyConfig struct {
	BaseURL string  `json:"base_url"`
	APIKey  string  `json:"api_key"`
	Timeout float64 `json:"timeout"` // seconds
}

// ModelsConfig selects the primary model and its fallbacks.
type ModelsConfig struct {
	Primary     string      `json:"primary"`
	Fallbacks   []string    `json:"fallbacks"`
	Proxy       ProxyConfig `json:"proxy"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
	MaxRetries  int         `json:"max_retries"`
	RetryDelay  float64     `json:"retry_delay"` // seconds
}

// OllamaConfig configures the local-model fallback provider.
type OllamaConfig struct {
	Enabled bool     `json:"enabled"`
	BaseURL string   `json:"base_url"`
	Models  []string `json:"models"`
	Timeout float64  `json:"timeout"`
}

// DiscordConfig controls the chat platform connection and admission policy.
type DiscordConfig struct {
	Token            string   `json:"token"`
	GuildIDs         []string `json:"guild_ids"`
	RequireMention   bool     `json:"require_mention"`
	DMPolicy         string   `json:"dm_policy"` // "open" | "allowlist"
	DMAllowlist      []string `json:"dm_allowlist"`
	StatusMessage    string   `json:"status_message"`
	MaxMessageLength int      `json:"max_message_length"`
}

// AgentConfig controls the orchestrator and tool executor.
type AgentConfig struct {
	Workspace         string   `json:"workspace"`
	SystemPromptFiles []string `json:"system_prompt_files"`
	ExecTimeout       int      `json:"exec_timeout"`    // seconds
	ExecMaxOutput     int      `json:"exec_max_output"` // bytes
	MaxSubagents      int      `json:"max_subagents"`
	MaxToolRounds     int      `json:"max_tool_rounds"`
	ContinuationNudge bool     `json:"continuation_nudge"`
}

// CompactionConfig controls session summarization.
type CompactionConfig struct {
	Enabled          bool   `json:"enabled"`
	MaxContextTokens int    `json:"max_context_tokens"`
	TargetTokens     int    `json:"target_tokens"`
	SummaryModel     string `json:"summary_model"`
}

// PersonaConfig binds a named persona to channels.
type PersonaConfig struct {
	Name              string   `json:"name"`
	ChannelIDs        []string `json:"channel_ids"`
	Workspace         string   `json:"workspace"`
	SystemPromptFiles []string `json:"system_prompt_files"`
	Model             string   `json:"model"`
	BaseURL           string   `json:"base_url"`
	Temperature       float64  `json:"temperature"`
	MaxTokens         int      `json:"max_tokens"`
	AuthorizedUsers   []string `json:"authorized_users"`
	RequireMention    *bool    `json:"require_mention"`
}

// RouterConfig maps channels to personas.
type RouterConfig struct {
	Personas       []PersonaConfig `json:"personas"`
	DefaultPersona string          `json:"default_persona"`
}

// ReportbackConfig fans turn results out to a coordinator webhook.
type ReportbackConfig struct {
	WebhookURL string            `json:"webhook_url"`
	Mention    string            `json:"mention"`
	Channels   map[string]string `json:"channels"` // channel_id → label
}

// DaemonConfig controls the auto-restart supervisor.
type DaemonConfig struct {
	AutoRestart   bool `json:"auto_restart"`
	MaxRestarts   int  `json:"max_restarts"`
	RestartWindow int  `json:"restart_window"` // seconds
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "http" | "grpc"
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Config is the full daemon configuration, loaded from ~/.plugd/config.json.
type Config struct {
	Models     ModelsConfig     `json:"models"`
	Ollama     OllamaConfig     `json:"ollama"`
	Discord    DiscordConfig    `json:"discord"`
	Agent      AgentConfig      `json:"agent"`
	Compaction CompactionConfig `json:"compaction"`
	Router     RouterConfig     `json:"router"`
	Reportback ReportbackConfig `json:"reportback"`
	Daemon     DaemonConfig     `json:"daemon"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}
