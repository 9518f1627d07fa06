package sessions

import (
	"encoding/json"

	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// CountText estimates tokens for a string. The heuristic is ~4 chars
// per token, which tracks close enough for budget decisions without
// shipping a tokenizer per model.
func CountText(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// CountMessage estimates tokens for a full message: a small per-message
// overhead plus content, tool calls, and the name tag.
func CountMessage(m providers.Message) int {
	n := 4 + CountText(m.Content)
	for _, tc := range m.ToolCalls {
		n += CountText(tc.Name)
		if args, err := json.Marshal(tc.Arguments); err == nil {
			n += CountText(string(args))
		}
	}
	if m.Name != "" {
		n += CountText(m.Name)
	}
	return n
}
