package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type deliveries struct {
	mu   sync.Mutex
	msgs []string
}

func (d *deliveries) deliver(ctx context.Context, channelID, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, content)
}

func (d *deliveries) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.msgs...)
}

func waitStatus(t *testing.T, m *SubAgentManager, id string, want SubAgentStatus) *SubAgent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sa := m.Get(id); sa != nil && sa.Status == want {
			return sa
		}
		time.Sleep(5 * time.Millisecond)
	}
	sa := m.Get(id)
	t.Fatalf("sub-agent %s status = %v, want %v", id, sa.Status, want)
	return nil
}

func TestSpawnCompletes(t *testing.T) {
	d := &deliveries{}
	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		return "task output: " + task, nil
	}, d.deliver, nil)

	id := m.Spawn(context.Background(), "summarize logs", "chan1", "", "logs", time.Minute)
	if id == "" {
		t.Fatal("empty id")
	}

	sa := waitStatus(t, m, id, StatusCompleted)
	if sa.Result != "task output: summarize logs" {
		t.Errorf("result = %q", sa.Result)
	}
	if sa.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}

	msgs := d.all()
	if len(msgs) != 1 {
		t.Fatalf("deliveries = %v", msgs)
	}
	if !strings.Contains(msgs[0], "**Sub-agent** `logs` **completed**") || !strings.Contains(msgs[0], "task output") {
		t.Errorf("delivery = %q", msgs[0])
	}
}

func TestSpawnFailure(t *testing.T) {
	d := &deliveries{}
	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		return "", errors.New("no such file")
	}, d.deliver, nil)

	id := m.Spawn(context.Background(), "bad task", "chan1", "", "bad", time.Minute)
	sa := waitStatus(t, m, id, StatusFailed)
	if sa.Error != "no such file" {
		t.Errorf("error = %q", sa.Error)
	}

	msgs := d.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "**failed**: no such file") {
		t.Errorf("delivery = %v", msgs)
	}
}

func TestSpawnTimeout(t *testing.T) {
	d := &deliveries{}
	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, d.deliver, nil)

	id := m.Spawn(context.Background(), "slow", "chan1", "", "slow", 50*time.Millisecond)
	sa := waitStatus(t, m, id, StatusTimeout)
	if !strings.Contains(sa.Error, "timed out") {
		t.Errorf("error = %q", sa.Error)
	}

	msgs := d.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "**timed out**") {
		t.Errorf("delivery = %v", msgs)
	}
}

func TestCancelSilent(t *testing.T) {
	d := &deliveries{}
	started := make(chan struct{})
	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, d.deliver, nil)

	id := m.Spawn(context.Background(), "long", "chan1", "", "long", time.Minute)
	<-started

	if !m.Cancel(id) {
		t.Fatal("Cancel returned false")
	}
	sa := waitStatus(t, m, id, StatusCancelled)
	if sa.FinishedAt.IsZero() {
		t.Error("FinishedAt not set after cancel")
	}

	// Let the goroutine unwind, then check no notification was sent.
	time.Sleep(50 * time.Millisecond)
	if msgs := d.all(); len(msgs) != 0 {
		t.Errorf("cancellation delivered %v", msgs)
	}

	if m.Cancel(id) {
		t.Error("Cancel succeeded twice")
	}
}

func TestConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})

	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return "ok", nil
	}, nil, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, m.Spawn(context.Background(), "t", "chan1", "", "", time.Minute))
	}

	// Give the pool time to admit its two slots.
	time.Sleep(100 * time.Millisecond)
	if got := m.ActiveCount(); got != 5 {
		t.Errorf("ActiveCount = %d, want 5", got)
	}
	close(release)

	for _, id := range ids {
		waitStatus(t, m, id, StatusCompleted)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestListAndCleanup(t *testing.T) {
	m := NewSubAgentManager(2, func(ctx context.Context, task, channelID, model string) (string, error) {
		return "ok", nil
	}, nil, nil)

	a := m.Spawn(context.Background(), "t1", "chanA", "", "", time.Minute)
	b := m.Spawn(context.Background(), "t2", "chanB", "", "", time.Minute)
	waitStatus(t, m, a, StatusCompleted)
	waitStatus(t, m, b, StatusCompleted)

	if got := m.List(""); len(got) != 2 {
		t.Errorf("List(all) = %d, want 2", len(got))
	}
	got := m.List("chanA")
	if len(got) != 1 || got[0].ID != a {
		t.Errorf("List(chanA) = %v", got)
	}

	// Nothing old enough yet.
	if n := m.Cleanup(time.Hour); n != 0 {
		t.Errorf("Cleanup removed %d, want 0", n)
	}
	if n := m.Cleanup(0); n != 2 {
		t.Errorf("Cleanup removed %d, want 2", n)
	}
	if got := m.List(""); len(got) != 0 {
		t.Errorf("List after cleanup = %v", got)
	}
}

func TestDefaultLabel(t *testing.T) {
	m := NewSubAgentManager(1, func(ctx context.Context, task, channelID, model string) (string, error) {
		return "ok", nil
	}, nil, nil)
	id := m.Spawn(context.Background(), "t", "c", "", "", time.Minute)
	sa := m.Get(id)
	if sa.Label != id[:8] {
		t.Errorf("Label = %q, want id prefix %q", sa.Label, id[:8])
	}
}
