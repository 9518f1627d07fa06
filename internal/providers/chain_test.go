package providers

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	model   string
	chatFn  func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	calls   []string // models requested, in order
}

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls = append(f.calls, req.Model)
	return f.chatFn(ctx, req)
}

func (f *fakeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return f.model }
func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) Close() error         { return nil }

func okResponse(content string) *ChatResponse {
	return &ChatResponse{
		Message:      Message{Role: "assistant", Content: content},
		FinishReason: "stop",
	}
}

func newTestChain(p Provider, models []string, fallbacks []Fallback, maxRetries int) (*Chain, *[]time.Duration) {
	var slept []time.Duration
	c := NewChain(p, models, fallbacks, maxRetries, time.Second, slog.Default())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestChainFirstSuccess(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return okResponse("hi"), nil
	}
	c, slept := newTestChain(p, []string{"alpha", "beta"}, nil, 2)

	resp, err := c.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hi" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "hi")
	}
	if len(p.calls) != 1 || p.calls[0] != "alpha" {
		t.Errorf("calls = %v, want [alpha]", p.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected sleeps: %v", *slept)
	}
}

func TestChainExplicitModelFirst(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return okResponse("ok"), nil
	}
	c, _ := newTestChain(p, []string{"alpha", "beta"}, nil, 2)

	if _, err := c.Chat(context.Background(), ChatRequest{Model: "gamma"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(p.calls) != 1 || p.calls[0] != "gamma" {
		t.Errorf("calls = %v, want [gamma]", p.calls)
	}
}

func TestChainFallsThroughModels(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		if req.Model == "beta" {
			return okResponse("from beta"), nil
		}
		return nil, errors.New("boom")
	}
	c, slept := newTestChain(p, []string{"alpha", "beta"}, nil, 2)

	resp, err := c.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "from beta" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	// alpha twice (retry), then beta once.
	want := []string{"alpha", "alpha", "beta"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", p.calls, want)
		}
	}
	// One linear retry sleep of retryDelay*1.
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("slept = %v, want [1s]", *slept)
	}
}

func TestChainRateLimitBackoff(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		if req.Model == "beta" {
			return okResponse("ok"), nil
		}
		return nil, &HTTPError{Status: 429, Body: "rate limit"}
	}
	c, slept := newTestChain(p, []string{"alpha", "beta"}, nil, 3)

	if _, err := c.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// Exponential: 1s*2^2=4s, 1s*2^3=8s, then the 5s pre-fallback pause.
	want := []time.Duration{4 * time.Second, 8 * time.Second, 5 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("slept[%d] = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestChainBackoffCap(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return nil, &HTTPError{Status: 429, Body: "rate limit"}
	}
	c, slept := newTestChain(p, []string{"alpha"}, nil, 6)

	if _, err := c.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("want error when all attempts fail")
	}
	for _, d := range *slept {
		if d > 30*time.Second {
			t.Errorf("backoff %v exceeds 30s cap", d)
		}
	}
}

func TestChainFallbackProvider(t *testing.T) {
	primary := &fakeProvider{name: "proxy", model: "alpha"}
	primary.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return nil, errors.New("proxy down")
	}
	local := &fakeProvider{name: "ollama", model: "llama3"}
	local.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return okResponse("local"), nil
	}
	c, _ := newTestChain(primary, []string{"alpha"}, []Fallback{{Provider: local, Models: []string{"llama3"}}}, 1)

	resp, err := c.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "local" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "local")
	}
	if len(local.calls) != 1 || local.calls[0] != "llama3" {
		t.Errorf("fallback calls = %v", local.calls)
	}
}

func TestChainAllFail(t *testing.T) {
	p := &fakeProvider{name: "proxy", model: "alpha"}
	sentinel := errors.New("last failure")
	p.chatFn = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return nil, sentinel
	}
	c, _ := newTestChain(p, []string{"alpha", "beta"}, nil, 1)

	_, err := c.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("want error")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error %v does not wrap last failure", err)
	}
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &HTTPError{Status: 429, Body: "slow down"}, true},
		{"http 500", &HTTPError{Status: 500, Body: "oops"}, false},
		{"rate in message", errors.New("upstream Rate limit hit"), true},
		{"too many", errors.New("Too Many Requests"), true},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimit(tt.err); got != tt.want {
				t.Errorf("IsRateLimit(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
	}{
		{"valid", `{"path": "/tmp"}`, "path"},
		{"empty", "", ""},
		{"garbage", `{not json`, "_raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := parseToolArguments(tt.raw)
			if args == nil {
				t.Fatal("args is nil")
			}
			if tt.key != "" {
				if _, ok := args[tt.key]; !ok {
					t.Errorf("args %v missing key %q", args, tt.key)
				}
			} else if len(args) != 0 {
				t.Errorf("args = %v, want empty", args)
			}
		})
	}
}
