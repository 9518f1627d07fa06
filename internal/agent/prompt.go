package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MemoryRecaller surfaces stored memories relevant to a channel. The
// backing store is a deployment concern; nil means no recall block.
type MemoryRecaller interface {
	Recall(ctx context.Context, channelID string) (string, error)
	Search(ctx context.Context, query string, limit int) (string, error)
	Stage(ctx context.Context, content string) error
}

// SystemPrompt assembles the single system message for a turn: the
// persona or global prompt, a context header, and an optional recalled
// memory block.
func SystemPrompt(base, workspace string, now time.Time, recall string) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Current date: %s\nCurrent time: %s\nWorkspace: %s",
		now.Format("Monday, 2006-01-02"),
		now.Format("15:04 MST"),
		workspace)
	if recall != "" {
		b.WriteString("\n\n## Recalled memories\n")
		b.WriteString(recall)
	}
	return b.String()
}
