package sessions

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/plugd/internal/providers"
)

func TestCountText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short rounds up to one", "ab", 1},
		{"forty chars", strings.Repeat("x", 40), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountText(tt.in); got != tt.want {
				t.Errorf("CountText(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestCountMessage(t *testing.T) {
	plain := providers.Message{Role: "user", Content: strings.Repeat("x", 40)}
	if got := CountMessage(plain); got != 14 {
		t.Errorf("plain message = %d, want 14", got)
	}

	withTools := providers.Message{
		Role: "assistant",
		ToolCalls: []providers.ToolCall{
			{Name: "exec", Arguments: map[string]any{"command": "ls -la"}},
		},
	}
	if got := CountMessage(withTools); got <= 4 {
		t.Errorf("tool call message = %d, want > 4", got)
	}

	named := providers.Message{Role: "tool", Content: "out", Name: "exec"}
	unnamed := providers.Message{Role: "tool", Content: "out"}
	if CountMessage(named) <= CountMessage(unnamed) {
		t.Error("name tag should add to the estimate")
	}
}
