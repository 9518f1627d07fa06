package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/plugd/internal/bus"
	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/providers"
	"github.com/nextlevelbuilder/plugd/internal/router"
	"github.com/nextlevelbuilder/plugd/internal/sessions"
	"github.com/nextlevelbuilder/plugd/internal/store"
	"github.com/nextlevelbuilder/plugd/internal/telemetry"
)

const maxRoundsNotice = "[Agent reached maximum tool-call rounds. Stopping.]"

type ctxKey int

const channelIDKey ctxKey = iota

// WithChannelID tags a context with the origin channel so tools can
// scope their side effects (spawns, cron jobs) to it.
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelIDKey, channelID)
}

// ChannelIDFrom returns the origin channel, or "" when untagged.
func ChannelIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(channelIDKey).(string); ok {
		return v
	}
	return ""
}

const nudgeContent = "Use your tools now. Do not describe what you'll do; call the tool directly."

// ToolExecutor is the tool surface the model can call. Execute always
// returns a string for the model; failures come back as error JSON.
type ToolExecutor interface {
	Definitions() []providers.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) string
}

// ChatClient is the provider chain surface the orchestrator needs.
type ChatClient interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
	DefaultModel() string
}

type compactor interface {
	MaybeCompact(ctx context.Context, channelID string) (bool, error)
}

// Orchestrator runs the multi-round tool-calling loop per channel and
// persists every turn to the session store. One turn runs per channel
// at a time; concurrent inbound messages are dropped.
type Orchestrator struct {
	store      *store.SessionStore
	chain      ChatClient
	tools      ToolExecutor
	router     *router.Router
	compactor  compactor
	memory     MemoryRecaller
	agentCfg   config.AgentConfig
	modelsCfg  config.ModelsConfig
	reportback config.ReportbackConfig
	httpClient *http.Client
	log        *slog.Logger

	mu         sync.Mutex
	inProgress map[string]bool
}

// OrchestratorParams bundles the orchestrator's collaborators. Router,
// compactor, and memory are optional.
type OrchestratorParams struct {
	Store      *store.SessionStore
	Chain      ChatClient
	Tools      ToolExecutor
	Router     *router.Router
	Compactor  compactor
	Memory     MemoryRecaller
	AgentCfg   config.AgentConfig
	ModelsCfg  config.ModelsConfig
	Reportback config.ReportbackConfig
	Log        *slog.Logger
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.AgentCfg.MaxToolRounds < 1 {
		p.AgentCfg.MaxToolRounds = 40
	}
	return &Orchestrator{
		store:      p.Store,
		chain:      p.Chain,
		tools:      p.Tools,
		router:     p.Router,
		compactor:  p.Compactor,
		memory:     p.Memory,
		agentCfg:   p.AgentCfg,
		modelsCfg:  p.ModelsCfg,
		reportback: p.Reportback,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        p.Log,
		inProgress: make(map[string]bool),
	}
}

// HandleMessage runs one agent turn for an inbound message and sends
// the reply through sender. A turn already running on the channel
// causes the message to be dropped with a log line.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg bus.InboundMessage, sender bus.Sender) {
	if !o.acquire(msg.ChannelID) {
		o.log.Info("turn already in progress, dropping message",
			"channel_id", msg.ChannelID, "author", msg.AuthorName)
		return
	}
	defer o.release(msg.ChannelID)

	var span trace.Span
	ctx, span = telemetry.Tracer().Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("channel_id", msg.ChannelID)))
	defer span.End()

	userMsg := providers.Message{Role: "user", Content: msg.Content}
	if _, err := o.store.Append(msg.ChannelID, userMsg, sessions.CountMessage(userMsg)); err != nil {
		o.log.Error("persist user message", "channel_id", msg.ChannelID, "error", err)
		return
	}

	if o.compactor != nil {
		if _, err := o.compactor.MaybeCompact(ctx, msg.ChannelID); err != nil {
			o.log.Warn("compaction failed, continuing with full history",
				"channel_id", msg.ChannelID, "error", err)
		}
	}

	final := o.runLoop(ctx, msg.ChannelID)
	if final == "" {
		return
	}

	out := bus.OutboundMessage{ChannelID: msg.ChannelID, Content: final, ReplyToID: msg.MessageID}
	if err := sender.Send(ctx, out); err != nil {
		o.log.Error("send reply", "channel_id", msg.ChannelID, "error", err)
	}

	o.reportBack(ctx, msg.ChannelID, final)
}

// RunIsolated executes one task outside any session: cron agent turns
// and sub-agent tasks. Nothing is persisted.
func (o *Orchestrator) RunIsolated(ctx context.Context, task, channelID, model string) (string, error) {
	persona := o.persona(channelID)
	conversation := []providers.Message{
		{Role: "system", Content: o.systemPrompt(ctx, channelID, persona)},
		{Role: "user", Content: task},
	}

	chain, temp, maxTokens := o.chainFor(persona)
	defs := o.tools.Definitions()
	ctx = WithChannelID(ctx, channelID)

	for round := 0; round < o.agentCfg.MaxToolRounds; round++ {
		resp, err := chain.Chat(ctx, providers.ChatRequest{
			Messages:    conversation,
			Tools:       defs,
			Model:       model,
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return "", err
		}

		conversation = append(conversation, resp.Message)
		if !resp.HasToolCalls() {
			return resp.Message.Content, nil
		}
		for _, tc := range resp.Message.ToolCalls {
			result := o.tools.Execute(ctx, tc.Name, tc.Arguments)
			conversation = append(conversation, providers.Message{
				Role: "tool", Content: result, ToolCallID: tc.ID, Name: tc.Name,
			})
		}
	}
	return maxRoundsNotice, nil
}

// runLoop drives the tool-calling loop over the persisted session.
func (o *Orchestrator) runLoop(ctx context.Context, channelID string) string {
	persona := o.persona(channelID)
	system := providers.Message{Role: "system", Content: o.systemPrompt(ctx, channelID, persona)}

	stored, err := o.store.Messages(channelID, false)
	if err != nil {
		o.log.Error("load session", "channel_id", channelID, "error", err)
		return "Session load error: " + err.Error()
	}
	conversation := make([]providers.Message, 0, len(stored)+1)
	conversation = append(conversation, system)
	for _, m := range stored {
		conversation = append(conversation, m.AsMessage())
	}

	chain, temp, maxTokens := o.chainFor(persona)
	defs := o.tools.Definitions()
	maxRounds := o.agentCfg.MaxToolRounds
	ctx = WithChannelID(ctx, channelID)

	for round := 0; round < maxRounds; round++ {
		o.log.Debug("agent iteration", "channel_id", channelID, "round", round+1)

		resp, err := chain.Chat(ctx, providers.ChatRequest{
			Messages:    conversation,
			Tools:       defs,
			Model:       o.personaModel(persona),
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			o.log.Error("llm call failed", "channel_id", channelID, "error", err)
			return "LLM error: " + err.Error()
		}

		o.persist(channelID, resp.Message)
		conversation = append(conversation, resp.Message)

		if !resp.HasToolCalls() {
			if o.agentCfg.ContinuationNudge && round < maxRounds-2 && soundsUnfinished(resp.Message.Content) {
				nudge := providers.Message{Role: "user", Content: nudgeContent}
				o.store.Append(channelID, nudge, 20)
				conversation = append(conversation, nudge)
				o.log.Debug("continuation nudge", "channel_id", channelID, "round", round+1)
				continue
			}
			return resp.Message.Content
		}

		for _, tc := range resp.Message.ToolCalls {
			o.log.Debug("tool call", "channel_id", channelID, "tool", tc.Name)
			result := o.tools.Execute(ctx, tc.Name, tc.Arguments)
			toolMsg := providers.Message{Role: "tool", Content: result, ToolCallID: tc.ID, Name: tc.Name}
			o.persist(channelID, toolMsg)
			conversation = append(conversation, toolMsg)
		}
	}

	o.log.Warn("max tool rounds exhausted", "channel_id", channelID, "rounds", maxRounds)
	return maxRoundsNotice
}

func (o *Orchestrator) persist(channelID string, msg providers.Message) {
	if _, err := o.store.Append(channelID, msg, sessions.CountMessage(msg)); err != nil {
		o.log.Error("persist message", "channel_id", channelID, "role", msg.Role, "error", err)
	}
}

func (o *Orchestrator) persona(channelID string) *config.PersonaConfig {
	if o.router == nil {
		return nil
	}
	return o.router.Route(channelID)
}

func (o *Orchestrator) systemPrompt(ctx context.Context, channelID string, persona *config.PersonaConfig) string {
	var base, workspace string
	if persona != nil {
		base = o.router.SystemPromptFor(persona)
		workspace = persona.Workspace
	} else {
		base = router.AssemblePrompt(o.agentCfg.Workspace, o.agentCfg.SystemPromptFiles, o.log)
	}
	if workspace == "" {
		workspace = o.agentCfg.Workspace
	}

	recall := ""
	if o.memory != nil {
		text, err := o.memory.Recall(ctx, channelID)
		if err != nil {
			o.log.Debug("memory recall failed", "channel_id", channelID, "error", err)
		} else {
			recall = text
		}
	}
	return SystemPrompt(base, workspace, time.Now(), recall)
}

// chainFor picks the persona's pinned chain when it has one, and
// resolves the effective sampling parameters.
func (o *Orchestrator) chainFor(persona *config.PersonaConfig) (ChatClient, float64, int) {
	temp := o.modelsCfg.Temperature
	maxTokens := o.modelsCfg.MaxTokens
	if persona != nil {
		if persona.Temperature > 0 {
			temp = persona.Temperature
		}
		if persona.MaxTokens > 0 {
			maxTokens = persona.MaxTokens
		}
		if o.router != nil {
			if c := o.router.ChainFor(persona); c != nil {
				return c, temp, maxTokens
			}
		}
	}
	return o.chain, temp, maxTokens
}

// personaModel returns the model override for personas that pin a
// model but share the default endpoint.
func (o *Orchestrator) personaModel(persona *config.PersonaConfig) string {
	if persona != nil && persona.BaseURL == "" {
		return persona.Model
	}
	return ""
}

func (o *Orchestrator) acquire(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inProgress[channelID] {
		return false
	}
	o.inProgress[channelID] = true
	return true
}

func (o *Orchestrator) release(channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inProgress, channelID)
}

// continuationPhrases signal the model narrated an action instead of
// calling a tool.
var continuationPhrases = []string{
	"let me ",
	"i'll now",
	"now i'll",
	"i will now",
	"i'll create",
	"i'll start",
	"i'm going to run",
	"simultaneously",
}

func soundsUnfinished(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range continuationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// reportBack posts a turn summary to the coordinator webhook for
// channels enumerated in the reportback config. Failures are logged
// and ignored.
func (o *Orchestrator) reportBack(ctx context.Context, channelID, final string) {
	label, ok := o.reportback.Channels[channelID]
	if !ok || o.reportback.WebhookURL == "" {
		return
	}

	summary := final
	if len(summary) > 1500 {
		summary = summary[:1500]
	}
	content := fmt.Sprintf("%s **%s Task Report**\n\n%s", o.reportback.Mention, label, summary)
	payload, err := json.Marshal(map[string]string{
		"content":  strings.TrimSpace(content),
		"username": label + " Report",
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.reportback.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		o.log.Warn("report-back request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.log.Warn("report-back delivery failed", "channel_id", channelID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		o.log.Warn("report-back rejected", "channel_id", channelID, "status", resp.StatusCode)
	}
}
