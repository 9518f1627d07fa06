package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/plugd/internal/providers"
	"github.com/nextlevelbuilder/plugd/internal/store"
)

const summarySystemPrompt = `You are a conversation summarizer. Produce a dense, factual summary of the conversation below. Preserve decisions that were made, identifiers, file paths, current state of any ongoing work, and outstanding action items. Do not add commentary or speculation.`

// transcript input is capped so the summary call itself stays inside
// the model's context window.
const maxTranscriptChars = 80_000

type messageStore interface {
	Messages(channelID string, includeCompacted bool) ([]store.StoredMessage, error)
	TokenSum(channelID string) (int, error)
	MarkCompacted(channelID string, upToID int64) error
	Append(channelID string, msg providers.Message, tokenCount int) (int64, error)
}

type chatCaller interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// Compactor folds old history into a summary message when a session
// grows past the token budget.
type Compactor struct {
	store        messageStore
	llm          chatCaller
	maxTokens    int // compaction trigger
	targetTokens int // budget for kept messages
	summaryModel string
	log          *slog.Logger
}

func NewCompactor(st messageStore, llm chatCaller, maxTokens, targetTokens int, summaryModel string, log *slog.Logger) *Compactor {
	if log == nil {
		log = slog.Default()
	}
	return &Compactor{
		store:        st,
		llm:          llm,
		maxTokens:    maxTokens,
		targetTokens: targetTokens,
		summaryModel: summaryModel,
		log:          log,
	}
}

// MaybeCompact checks the channel's active token sum and compacts when
// over budget. Returns whether a compaction happened. On summarization
// failure no state changes; the next turn retries.
func (c *Compactor) MaybeCompact(ctx context.Context, channelID string) (bool, error) {
	sum, err := c.store.TokenSum(channelID)
	if err != nil {
		return false, err
	}
	if sum <= c.maxTokens {
		return false, nil
	}

	msgs, err := c.store.Messages(channelID, false)
	if err != nil {
		return false, err
	}
	if len(msgs) < 4 {
		return false, nil
	}

	// Walk newest to oldest, keeping messages until the target budget
	// is spent. Everything older gets summarized.
	keepFrom := len(msgs)
	kept := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		t := CountMessage(msgs[i].AsMessage())
		if kept+t > c.targetTokens {
			break
		}
		kept += t
		keepFrom = i
	}

	// Always compact at least the two oldest messages.
	if keepFrom > len(msgs)-2 {
		keepFrom = len(msgs) - 2
	}
	if keepFrom <= 0 {
		return false, nil
	}

	// Never split an assistant tool_calls message from its tool
	// results; a dangling tool role breaks the next LLM call.
	for keepFrom > 0 && msgs[keepFrom].Role == "tool" {
		keepFrom--
	}
	if keepFrom <= 0 {
		return false, nil
	}

	toCompact := msgs[:keepFrom]
	summary, err := c.summarize(ctx, toCompact)
	if err != nil {
		return false, fmt.Errorf("summarize session %s: %w", channelID, err)
	}

	upTo := msgs[keepFrom-1].ID
	if err := c.store.MarkCompacted(channelID, upTo); err != nil {
		return false, err
	}

	content := "[Previous conversation summary]\n" + summary
	summaryMsg := providers.Message{Role: "system", Content: content}
	if _, err := c.store.Append(channelID, summaryMsg, CountMessage(summaryMsg)); err != nil {
		return false, err
	}

	c.log.Info("compacted session",
		"channel_id", channelID,
		"compacted_messages", len(toCompact),
		"kept_messages", len(msgs)-keepFrom,
		"tokens_before", sum)
	return true, nil
}

func (c *Compactor) summarize(ctx context.Context, msgs []store.StoredMessage) (string, error) {
	transcript := formatTranscript(msgs)
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars] + "\n[...truncated...]"
	}

	resp, err := c.llm.Chat(ctx, providers.ChatRequest{
		Model: c.summaryModel,
		Messages: []providers.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary from model")
	}
	return summary, nil
}

func formatTranscript(msgs []store.StoredMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Fprintf(&b, "[Called tools: %s]\n", strings.Join(names, ", "))
			continue
		}
		tag := strings.ToUpper(m.Role)
		if m.Name != "" {
			tag += " (" + m.Name + ")"
		}
		fmt.Fprintf(&b, "[%s]: %s\n", tag, m.Content)
	}
	return b.String()
}
