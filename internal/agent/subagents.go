package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// SubAgentStatus is the lifecycle state of a background task.
type SubAgentStatus string

const (
	StatusPending   SubAgentStatus = "pending"
	StatusRunning   SubAgentStatus = "running"
	StatusCompleted SubAgentStatus = "completed"
	StatusFailed    SubAgentStatus = "failed"
	StatusTimeout   SubAgentStatus = "timeout"
	StatusCancelled SubAgentStatus = "cancelled"
)

const defaultSubAgentTimeout = 300 * time.Second

// SubAgent is one background task. Its conversation lives only in
// memory; nothing is persisted to the session store.
type SubAgent struct {
	ID         string
	Task       string
	ChannelID  string
	Model      string
	Label      string
	Timeout    time.Duration
	Status     SubAgentStatus
	Result     string
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	cancel context.CancelFunc
}

// SubAgentRunFunc executes the task and returns its result text.
type SubAgentRunFunc func(ctx context.Context, task, channelID, model string) (string, error)

// DeliverFunc pushes a notification into the origin channel.
type DeliverFunc func(ctx context.Context, channelID, content string)

// SubAgentManager runs background tasks under a concurrency bound.
// Spawn returns immediately; results are delivered to the origin
// channel when the task finishes.
type SubAgentManager struct {
	run     SubAgentRunFunc
	deliver DeliverFunc
	sem     *semaphore.Weighted
	log     *slog.Logger

	mu     sync.Mutex
	agents map[string]*SubAgent
}

func NewSubAgentManager(maxConcurrent int, run SubAgentRunFunc, deliver DeliverFunc, log *slog.Logger) *SubAgentManager {
	if maxConcurrent < 1 {
		maxConcurrent = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &SubAgentManager{
		run:     run,
		deliver: deliver,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		log:     log,
		agents:  make(map[string]*SubAgent),
	}
}

// Spawn queues a task and returns its id with status pending. The
// task waits for a pool slot before running.
func (m *SubAgentManager) Spawn(ctx context.Context, task, channelID, model, label string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = defaultSubAgentTimeout
	}
	sa := &SubAgent{
		ID:        uuid.NewString(),
		Task:      task,
		ChannelID: channelID,
		Model:     model,
		Label:     label,
		Timeout:   timeout,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if sa.Label == "" {
		sa.Label = sa.ID[:8]
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sa.cancel = cancel

	m.mu.Lock()
	m.agents[sa.ID] = sa
	m.mu.Unlock()

	go m.execute(runCtx, sa)

	m.log.Info("sub-agent spawned", "id", sa.ID, "label", sa.Label, "channel_id", channelID)
	return sa.ID
}

func (m *SubAgentManager) execute(ctx context.Context, sa *SubAgent) {
	defer func() {
		m.mu.Lock()
		sa.FinishedAt = time.Now()
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.setStatus(sa, StatusCancelled, "", "")
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	if sa.Status == StatusCancelled {
		m.mu.Unlock()
		return
	}
	sa.Status = StatusRunning
	sa.StartedAt = time.Now()
	m.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, sa.Timeout)
	defer cancel()

	result, err := m.run(taskCtx, sa.Task, sa.ChannelID, sa.Model)
	elapsed := time.Since(sa.StartedAt)

	switch {
	case ctx.Err() == context.Canceled:
		m.setStatus(sa, StatusCancelled, "", "")
		m.log.Info("sub-agent cancelled", "id", sa.ID, "label", sa.Label)

	case taskCtx.Err() == context.DeadlineExceeded:
		m.setStatus(sa, StatusTimeout, "", fmt.Sprintf("timed out after %s", sa.Timeout))
		m.notify(sa, fmt.Sprintf("**Sub-agent** `%s` **timed out** after %s.", sa.Label, sa.Timeout))

	case err != nil:
		m.setStatus(sa, StatusFailed, "", err.Error())
		m.notify(sa, fmt.Sprintf("**Sub-agent** `%s` **failed**: %s", sa.Label, err.Error()))

	default:
		m.setStatus(sa, StatusCompleted, result, "")
		m.notify(sa, fmt.Sprintf("**Sub-agent** `%s` **completed** (%.1fs):\n\n%s", sa.Label, elapsed.Seconds(), result))
	}
}

func (m *SubAgentManager) setStatus(sa *SubAgent, status SubAgentStatus, result, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sa.Status == StatusCancelled && status != StatusCancelled {
		return
	}
	sa.Status = status
	sa.Result = result
	sa.Error = errMsg
}

func (m *SubAgentManager) notify(sa *SubAgent, content string) {
	if m.deliver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.deliver(ctx, sa.ChannelID, content)
}

// Get returns a copy of the sub-agent, or nil.
func (m *SubAgentManager) Get(id string) *SubAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, ok := m.agents[id]
	if !ok {
		return nil
	}
	cp := *sa
	return &cp
}

// List returns copies of all sub-agents, optionally filtered by
// channel, newest first is not guaranteed.
func (m *SubAgentManager) List(channelID string) []*SubAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SubAgent
	for _, sa := range m.agents {
		if channelID != "" && sa.ChannelID != channelID {
			continue
		}
		cp := *sa
		out = append(out, &cp)
	}
	return out
}

// ActiveCount counts pending and running sub-agents.
func (m *SubAgentManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sa := range m.agents {
		if sa.Status == StatusPending || sa.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Cancel stops a pending or running sub-agent. No notification is
// delivered for cancellations.
func (m *SubAgentManager) Cancel(id string) bool {
	m.mu.Lock()
	sa, ok := m.agents[id]
	if !ok || (sa.Status != StatusPending && sa.Status != StatusRunning) {
		m.mu.Unlock()
		return false
	}
	sa.Status = StatusCancelled
	cancel := sa.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// CancelAll cancels every active sub-agent and returns how many.
func (m *SubAgentManager) CancelAll() int {
	m.mu.Lock()
	var ids []string
	for id, sa := range m.agents {
		if sa.Status == StatusPending || sa.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Cancel(id) {
			n++
		}
	}
	return n
}

// Cleanup drops finished sub-agents older than maxAge and returns how
// many were removed.
func (m *SubAgentManager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sa := range m.agents {
		switch sa.Status {
		case StatusPending, StatusRunning:
			continue
		}
		if !sa.FinishedAt.IsZero() && sa.FinishedAt.Before(cutoff) {
			delete(m.agents, id)
			n++
		}
	}
	return n
}
