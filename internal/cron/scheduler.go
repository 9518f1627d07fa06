package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/plugd/internal/store"
)

const defaultTick = 15 * time.Second

// Executor runs a due job's payload and returns a result summary.
type Executor interface {
	Execute(ctx context.Context, job *store.CronJob) (string, error)
}

// Scheduler polls the cron store and fires due jobs sequentially.
// Executor failures and panics are recorded but never escape a tick,
// and a fire missed while the daemon was down runs once on resumption.
type Scheduler struct {
	store *store.CronStore
	exec  Executor
	log   *slog.Logger
	tick  time.Duration
}

func NewScheduler(st *store.CronStore, exec Executor, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: st, exec: exec, log: log, tick: defaultTick}
}

// Add validates the schedule, computes the first fire time, and
// persists the job. A generated id is filled in when absent.
func (s *Scheduler) Add(job *store.CronJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.PayloadKind == "" {
		job.PayloadKind = "system_event"
	}
	if job.PayloadTimeout <= 0 {
		job.PayloadTimeout = 120
	}

	next, err := ComputeNextRun(job, time.Now())
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("job %s: scheduled time is in the past", job.ID)
	}
	job.NextRun = next
	job.Enabled = true
	return s.store.Put(job)
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("cron scheduler started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cron scheduler stopped")
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()
	due, err := s.store.Due(floatUnix(now))
	if err != nil {
		s.log.Error("query due jobs", "error", err)
		return
	}
	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *store.CronJob) {
	started := time.Now()
	run := &store.CronRun{JobID: job.ID, StartedAt: floatUnix(started)}

	timeout := time.Duration(job.PayloadTimeout) * time.Second
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := s.executeSafe(jobCtx, job)
	cancel()

	switch {
	case err == nil:
		run.Status = "ok"
		run.Result = result
	case jobCtx.Err() == context.DeadlineExceeded:
		run.Status = "timeout"
		run.Error = fmt.Sprintf("exceeded %s", timeout)
	default:
		run.Status = "error"
		run.Error = err.Error()
	}
	run.FinishedAt = floatUnix(time.Now())

	if err := s.store.RecordRun(run); err != nil {
		s.log.Error("record cron run", "job_id", job.ID, "error", err)
	}

	// Advance the schedule from completion time, not scheduled time, so
	// a backlog never causes rapid-fire catch-up.
	now := time.Now()
	job.LastRun = func(v float64) *float64 { return &v }(floatUnix(now))
	next, nerr := ComputeNextRun(job, now)
	if nerr != nil {
		s.log.Error("compute next run", "job_id", job.ID, "error", nerr)
		next = nil
	}
	oneShot := job.ScheduleKind == "at"
	if err := s.store.MarkRun(job.ID, floatUnix(now), next, oneShot); err != nil {
		s.log.Error("mark cron run", "job_id", job.ID, "error", err)
	}

	s.log.Info("cron job ran",
		"job_id", job.ID,
		"name", job.Name,
		"status", run.Status,
		"duration", time.Since(started).Round(time.Millisecond))
}

// executeSafe shields the tick loop from executor panics.
func (s *Scheduler) executeSafe(ctx context.Context, job *store.CronJob) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.exec.Execute(ctx, job)
}
