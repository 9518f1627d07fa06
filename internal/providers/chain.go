package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Fallback is a provider tried after the primary's models are exhausted.
type Fallback struct {
	Provider Provider
	Models   []string
}

// Chain walks models and providers in order until one call succeeds.
// Rate limits back off exponentially; other errors retry linearly. The
// first successful response is returned verbatim.
type Chain struct {
	primary    Provider
	models     []string
	fallbacks  []Fallback
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChain builds a chain over the primary provider's model list.
// maxRetries is attempts per model; retryDelay seeds the backoff.
func NewChain(primary Provider, models []string, fallbacks []Fallback, maxRetries int, retryDelay time.Duration, log *slog.Logger) *Chain {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Chain{
		primary:    primary,
		models:     models,
		fallbacks:  fallbacks,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
		sleep:      sleepCtx,
	}
}

// DefaultModel returns the first model in the chain.
func (c *Chain) DefaultModel() string {
	if len(c.models) > 0 {
		return c.models[0]
	}
	return c.primary.DefaultModel()
}

type candidate struct {
	provider Provider
	model    string
}

// candidates expands the chain into (provider, model) pairs. An explicit
// model goes first; duplicates within the primary list are skipped.
func (c *Chain) candidates(explicit string) []candidate {
	var out []candidate
	if explicit != "" {
		out = append(out, candidate{c.primary, explicit})
	}
	for _, m := range c.models {
		if m == explicit {
			continue
		}
		out = append(out, candidate{c.primary, m})
	}
	for _, fb := range c.fallbacks {
		models := fb.Models
		if len(models) == 0 {
			models = []string{fb.Provider.DefaultModel()}
		}
		for _, m := range models {
			out = append(out, candidate{fb.Provider, m})
		}
	}
	return out
}

// Chat tries each candidate model in order, retrying per the backoff
// policy, and returns the first successful response.
func (c *Chain) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.run(ctx, req, func(ctx context.Context, p Provider, r ChatRequest) (*ChatResponse, error) {
		return p.Chat(ctx, r)
	})
}

// ChatStream is Chat over the streaming path. Tools are dropped by the
// providers on this path.
func (c *Chain) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	return c.run(ctx, req, func(ctx context.Context, p Provider, r ChatRequest) (*ChatResponse, error) {
		return p.ChatStream(ctx, r, onChunk)
	})
}

func (c *Chain) run(ctx context.Context, req ChatRequest, call func(context.Context, Provider, ChatRequest) (*ChatResponse, error)) (*ChatResponse, error) {
	cands := c.candidates(req.Model)
	if len(cands) == 0 {
		return nil, fmt.Errorf("provider chain: no models configured")
	}

	var lastErr error
	for i, cand := range cands {
		resp, rateLimited, err := c.tryModel(ctx, cand, req, call)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A throttled model usually means the whole upstream account is
		// hot; give it a moment before hitting the next model.
		if rateLimited && i < len(cands)-1 {
			c.log.Info("model rate limited, pausing before fallback",
				"model", cand.model, "provider", cand.provider.Name())
			if err := c.sleep(ctx, 5*time.Second); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("all models failed: %w", lastErr)
}

// tryModel attempts one model up to maxRetries times. The bool result
// reports whether the final failure was a rate limit.
func (c *Chain) tryModel(ctx context.Context, cand candidate, req ChatRequest, call func(context.Context, Provider, ChatRequest) (*ChatResponse, error)) (*ChatResponse, bool, error) {
	req.Model = cand.model

	var lastErr error
	rateLimited := false
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := call(ctx, cand.provider, req)
		if err == nil {
			return resp, false, nil
		}
		lastErr = err
		rateLimited = IsRateLimit(err)

		c.log.Warn("model call failed",
			"provider", cand.provider.Name(),
			"model", cand.model,
			"attempt", attempt+1,
			"rate_limited", rateLimited,
			"error", err)

		if attempt == c.maxRetries-1 {
			break
		}

		var delay time.Duration
		if rateLimited {
			// retryDelay * 2^(attempt+2), capped at 30s.
			delay = c.retryDelay * time.Duration(1<<(attempt+2))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			if he, ok := lastErr.(*HTTPError); ok && he.RetryAfter > delay {
				delay = he.RetryAfter
			}
		} else {
			delay = c.retryDelay * time.Duration(attempt+1)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, rateLimited, err
		}
	}
	return nil, rateLimited, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
