package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/providers"
)

const maxFetchBytes = 100_000

// WebFetchTool fetches a URL and returns the body text.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Definition() providers.ToolDefinition {
	return def("web_fetch",
		"Fetch a URL with HTTP GET and return the response body as text.",
		map[string]any{
			"url": prop("string", "The URL to fetch"),
		},
		[]string{"url"})
}

func (t *WebFetchTool) Run(ctx context.Context, args map[string]any) (string, error) {
	url, err := strArg(args, "url")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("url must be http or https")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "plugd/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}

	text := string(body)
	truncated := false
	if len(text) > maxFetchBytes {
		text = text[:maxFetchBytes]
		truncated = true
	}

	out := fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, text)
	if truncated {
		out += "\n[body truncated]"
	}
	return out, nil
}
