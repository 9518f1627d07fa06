package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// CronJob is one scheduled job. Schedule and payload are stored
// flattened; the scheduler package interprets them.
type CronJob struct {
	ID      string
	Name    string
	Enabled bool

	ScheduleKind     string // "at" | "every" | "cron"
	ScheduleAt       float64
	ScheduleEveryMS  int64
	ScheduleCronExpr string
	ScheduleTZ       string

	PayloadKind    string // "system_event" | "agent_turn"
	PayloadText    string
	PayloadModel   string
	PayloadTimeout int // seconds

	ChannelID string
	NextRun   *float64
	LastRun   *float64
	RunCount  int
	CreatedAt float64
}

// CronRun records one execution of a job.
type CronRun struct {
	ID         int64
	JobID      string
	StartedAt  float64
	FinishedAt float64
	Status     string // "ok" | "timeout" | "error"
	Result     string
	Error      string
}

// CronStore persists jobs and their run history in sqlite.
type CronStore struct {
	db *sql.DB
}

const cronSchema = `
CREATE TABLE IF NOT EXISTS cron_jobs (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	enabled            INTEGER NOT NULL DEFAULT 1,
	schedule_kind      TEXT NOT NULL,
	schedule_at        REAL,
	schedule_every_ms  INTEGER,
	schedule_cron_expr TEXT,
	schedule_tz        TEXT,
	payload_kind       TEXT NOT NULL DEFAULT 'system_event',
	payload_text       TEXT,
	payload_model      TEXT,
	payload_timeout    INTEGER DEFAULT 120,
	channel_id         TEXT,
	next_run           REAL,
	last_run           REAL,
	run_count          INTEGER DEFAULT 0,
	created_at         REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS cron_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	started_at  REAL NOT NULL,
	finished_at REAL,
	status      TEXT,
	result      TEXT,
	error       TEXT,
	FOREIGN KEY (job_id) REFERENCES cron_jobs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cron_next ON cron_jobs(enabled, next_run);
CREATE INDEX IF NOT EXISTS idx_runs_job ON cron_runs(job_id, started_at);
`

// OpenCronStore opens (and migrates) the cron database at path.
func OpenCronStore(path string) (*CronStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cron db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cron db pragma: %w", err)
		}
	}
	if _, err := db.Exec(cronSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cron db: %w", err)
	}
	return &CronStore{db: db}, nil
}

func (s *CronStore) Close() error { return s.db.Close() }

// Put inserts or replaces a job.
func (s *CronStore) Put(job *CronJob) error {
	if job.CreatedAt == 0 {
		job.CreatedAt = now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cron_jobs
		 (id, name, enabled, schedule_kind, schedule_at, schedule_every_ms, schedule_cron_expr, schedule_tz,
		  payload_kind, payload_text, payload_model, payload_timeout, channel_id, next_run, last_run, run_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, boolInt(job.Enabled),
		job.ScheduleKind, job.ScheduleAt, job.ScheduleEveryMS, job.ScheduleCronExpr, job.ScheduleTZ,
		job.PayloadKind, job.PayloadText, job.PayloadModel, job.PayloadTimeout,
		job.ChannelID, job.NextRun, job.LastRun, job.RunCount, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("put cron job: %w", err)
	}
	return nil
}

const cronJobColumns = `id, name, enabled, schedule_kind, schedule_at, schedule_every_ms, schedule_cron_expr, schedule_tz,
	payload_kind, payload_text, payload_model, payload_timeout, channel_id, next_run, last_run, run_count, created_at`

func scanCronJob(scan func(...any) error) (*CronJob, error) {
	var job CronJob
	var enabled int
	var schedAt, nextRun, lastRun sql.NullFloat64
	var everyMS sql.NullInt64
	var cronExpr, tz, payloadText, payloadModel, channelID sql.NullString
	err := scan(&job.ID, &job.Name, &enabled,
		&job.ScheduleKind, &schedAt, &everyMS, &cronExpr, &tz,
		&job.PayloadKind, &payloadText, &payloadModel, &job.PayloadTimeout,
		&channelID, &nextRun, &lastRun, &job.RunCount, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled != 0
	job.ScheduleAt = schedAt.Float64
	job.ScheduleEveryMS = everyMS.Int64
	job.ScheduleCronExpr = cronExpr.String
	job.ScheduleTZ = tz.String
	job.PayloadText = payloadText.String
	job.PayloadModel = payloadModel.String
	job.ChannelID = channelID.String
	if nextRun.Valid {
		v := nextRun.Float64
		job.NextRun = &v
	}
	if lastRun.Valid {
		v := lastRun.Float64
		job.LastRun = &v
	}
	return &job, nil
}

// Get returns a job by id, or nil when absent.
func (s *CronStore) Get(id string) (*CronJob, error) {
	row := s.db.QueryRow(`SELECT `+cronJobColumns+` FROM cron_jobs WHERE id = ?`, id)
	job, err := scanCronJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cron job: %w", err)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (s *CronStore) List() ([]*CronJob, error) {
	rows, err := s.db.Query(`SELECT ` + cronJobColumns + ` FROM cron_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []*CronJob
	for rows.Next() {
		job, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Due returns enabled jobs whose next_run is at or before ts.
func (s *CronStore) Due(ts float64) ([]*CronJob, error) {
	rows, err := s.db.Query(
		`SELECT `+cronJobColumns+` FROM cron_jobs
		 WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`, ts)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var out []*CronJob
	for rows.Next() {
		job, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkRun records a completed fire: bumps last_run and run_count, sets
// the next fire time, and optionally disables one-shot jobs.
func (s *CronStore) MarkRun(id string, lastRun float64, nextRun *float64, disable bool) error {
	enabledExpr := "enabled"
	if disable {
		enabledExpr = "0"
	}
	_, err := s.db.Exec(
		`UPDATE cron_jobs SET last_run = ?, next_run = ?, run_count = run_count + 1, enabled = `+enabledExpr+`
		 WHERE id = ?`, lastRun, nextRun, id)
	if err != nil {
		return fmt.Errorf("mark cron run: %w", err)
	}
	return nil
}

// SetEnabled toggles a job.
func (s *CronStore) SetEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set cron enabled: %w", err)
	}
	return nil
}

// Remove deletes a job and its run history.
func (s *CronStore) Remove(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove cron job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordRun inserts one run history row.
func (s *CronStore) RecordRun(run *CronRun) error {
	_, err := s.db.Exec(
		`INSERT INTO cron_runs (job_id, started_at, finished_at, status, result, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.JobID, run.StartedAt, run.FinishedAt, run.Status, run.Result, run.Error)
	if err != nil {
		return fmt.Errorf("record cron run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs for a job, newest first.
func (s *CronStore) Runs(jobID string, limit int) ([]*CronRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, job_id, started_at, finished_at, status, result, error
		 FROM cron_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cron runs: %w", err)
	}
	defer rows.Close()

	var out []*CronRun
	for rows.Next() {
		var run CronRun
		var finished sql.NullFloat64
		var status, result, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.JobID, &run.StartedAt, &finished, &status, &result, &errMsg); err != nil {
			return nil, err
		}
		run.FinishedAt = finished.Float64
		run.Status = status.String
		run.Result = result.String
		run.Error = errMsg.String
		out = append(out, &run)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
