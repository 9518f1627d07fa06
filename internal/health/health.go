package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultInterval = 30 * time.Second

// Status is a snapshot of the proxy probe state.
type Status struct {
	Healthy             bool
	LastChecked         time.Time
	LastError           string
	ConsecutiveFailures int
}

// Checker probes the LLM proxy periodically so the daemon can report
// upstream health without burning a model call.
type Checker struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	status Status
}

func NewChecker(proxyBaseURL string, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		baseURL:  strings.TrimRight(proxyBaseURL, "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: defaultInterval,
		log:      log,
	}
}

// Run probes until the context is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckNow(ctx)
		}
	}
}

// CheckNow probes the proxy once and updates the snapshot. The probe
// tries {base}/health first and falls back to the server root.
func (c *Checker) CheckNow(ctx context.Context) Status {
	err := c.probe(ctx, c.baseURL+"/health")
	if err != nil {
		// The proxy may not expose /health; any response from the root
		// still proves it is up.
		if rootErr := c.probe(ctx, rootOf(c.baseURL)); rootErr == nil {
			err = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastChecked = time.Now()
	if err != nil {
		c.status.Healthy = false
		c.status.LastError = err.Error()
		c.status.ConsecutiveFailures++
		if c.status.ConsecutiveFailures == 1 || c.status.ConsecutiveFailures%10 == 0 {
			c.log.Warn("proxy unhealthy", "failures", c.status.ConsecutiveFailures, "error", err)
		}
	} else {
		if !c.status.Healthy && c.status.ConsecutiveFailures > 0 {
			c.log.Info("proxy recovered", "after_failures", c.status.ConsecutiveFailures)
		}
		c.status.Healthy = true
		c.status.LastError = ""
		c.status.ConsecutiveFailures = 0
	}
	return c.status
}

func (c *Checker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned http %d", url, resp.StatusCode)
	}
	return nil
}

// Status returns the latest snapshot.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// rootOf strips a version path suffix, e.g. ".../v1" to the bare host.
func rootOf(baseURL string) string {
	if i := strings.Index(baseURL, "://"); i >= 0 {
		if j := strings.Index(baseURL[i+3:], "/"); j >= 0 {
			return baseURL[:i+3+j]
		}
	}
	return baseURL
}
