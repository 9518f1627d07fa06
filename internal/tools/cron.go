package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/plugd/internal/agent"
	"github.com/nextlevelbuilder/plugd/internal/cron"
	"github.com/nextlevelbuilder/plugd/internal/providers"
	"github.com/nextlevelbuilder/plugd/internal/store"
)

// CronAddTool schedules a job on the current channel. Exactly one of
// cron, every_seconds, or at_unix selects the schedule kind.
type CronAddTool struct {
	Scheduler *cron.Scheduler
}

func (t *CronAddTool) Name() string { return "cron_add" }

func (t *CronAddTool) Definition() providers.ToolDefinition {
	return def("cron_add",
		"Schedule a job for this channel. Provide exactly one of: cron (5-field expression, Monday=0), every_seconds, or at_unix.",
		map[string]any{
			"name":          prop("string", "Human-readable job name"),
			"message":       prop("string", "Payload text: event text, or the task for an agent turn"),
			"cron":          prop("string", "5-field cron expression (optional)"),
			"every_seconds": prop("integer", "Repeat interval in seconds (optional)"),
			"at_unix":       prop("number", "One-shot fire time, unix seconds (optional)"),
			"tz":            prop("string", "IANA timezone for cron expressions (optional, default UTC)"),
			"payload_kind":  prop("string", "system_event (default) or agent_turn"),
			"model":         prop("string", "Model override for agent_turn payloads (optional)"),
			"timeout":       prop("integer", "Payload timeout in seconds (optional, default 120)"),
		},
		[]string{"name", "message"})
}

func (t *CronAddTool) Run(ctx context.Context, args map[string]any) (string, error) {
	name, err := strArg(args, "name")
	if err != nil {
		return "", err
	}
	message, err := strArg(args, "message")
	if err != nil {
		return "", err
	}
	channelID := agent.ChannelIDFrom(ctx)
	if channelID == "" {
		return "", fmt.Errorf("no origin channel for cron job")
	}

	job := &store.CronJob{
		Name:           name,
		PayloadKind:    optStr(args, "payload_kind"),
		PayloadText:    message,
		PayloadModel:   optStr(args, "model"),
		PayloadTimeout: optInt(args, "timeout", 0),
		ChannelID:      channelID,
	}
	switch {
	case optStr(args, "cron") != "":
		job.ScheduleKind = "cron"
		job.ScheduleCronExpr = optStr(args, "cron")
		job.ScheduleTZ = optStr(args, "tz")
	case optInt(args, "every_seconds", 0) > 0:
		job.ScheduleKind = "every"
		job.ScheduleEveryMS = int64(optInt(args, "every_seconds", 0)) * 1000
	case args["at_unix"] != nil:
		at, ok := args["at_unix"].(float64)
		if !ok {
			return "", fmt.Errorf("at_unix must be a number")
		}
		job.ScheduleKind = "at"
		job.ScheduleAt = at
	default:
		return "", fmt.Errorf("provide one of cron, every_seconds, or at_unix")
	}
	if job.PayloadKind != "" && job.PayloadKind != "system_event" && job.PayloadKind != "agent_turn" {
		return "", fmt.Errorf("payload_kind must be system_event or agent_turn")
	}

	if err := t.Scheduler.Add(job); err != nil {
		return "", err
	}

	next := ""
	if job.NextRun != nil {
		next = time.Unix(int64(*job.NextRun), 0).UTC().Format(time.RFC3339)
	}
	data, _ := json.Marshal(map[string]string{"job_id": job.ID, "next_run": next})
	return string(data), nil
}

// CronListTool lists jobs for the current channel.
type CronListTool struct {
	Store *store.CronStore
}

func (t *CronListTool) Name() string { return "cron_list" }

func (t *CronListTool) Definition() providers.ToolDefinition {
	return def("cron_list",
		"List scheduled jobs for this channel.",
		map[string]any{}, nil)
}

func (t *CronListTool) Run(ctx context.Context, args map[string]any) (string, error) {
	jobs, err := t.Store.List()
	if err != nil {
		return "", err
	}
	channelID := agent.ChannelIDFrom(ctx)

	type entry struct {
		ID       string `json:"job_id"`
		Name     string `json:"name"`
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
		NextRun  string `json:"next_run,omitempty"`
		RunCount int    `json:"run_count"`
	}
	var out []entry
	for _, job := range jobs {
		if channelID != "" && job.ChannelID != channelID {
			continue
		}
		e := entry{ID: job.ID, Name: job.Name, Enabled: job.Enabled, Schedule: describeSchedule(job), RunCount: job.RunCount}
		if job.NextRun != nil {
			e.NextRun = time.Unix(int64(*job.NextRun), 0).UTC().Format(time.RFC3339)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return "[no scheduled jobs]", nil
	}
	data, _ := json.Marshal(out)
	return string(data), nil
}

func describeSchedule(job *store.CronJob) string {
	switch job.ScheduleKind {
	case "cron":
		if job.ScheduleTZ != "" {
			return fmt.Sprintf("cron %q (%s)", job.ScheduleCronExpr, job.ScheduleTZ)
		}
		return fmt.Sprintf("cron %q", job.ScheduleCronExpr)
	case "every":
		return fmt.Sprintf("every %s", time.Duration(job.ScheduleEveryMS)*time.Millisecond)
	case "at":
		return fmt.Sprintf("at %s", time.Unix(int64(job.ScheduleAt), 0).UTC().Format(time.RFC3339))
	}
	return job.ScheduleKind
}

// CronRemoveTool deletes a job.
type CronRemoveTool struct {
	Store *store.CronStore
}

func (t *CronRemoveTool) Name() string { return "cron_remove" }

func (t *CronRemoveTool) Definition() providers.ToolDefinition {
	return def("cron_remove",
		"Remove a scheduled job by id.",
		map[string]any{
			"job_id": prop("string", "The job id to remove"),
		},
		[]string{"job_id"})
}

func (t *CronRemoveTool) Run(ctx context.Context, args map[string]any) (string, error) {
	id, err := strArg(args, "job_id")
	if err != nil {
		return "", err
	}
	removed, err := t.Store.Remove(id)
	if err != nil {
		return "", err
	}
	if !removed {
		return "", fmt.Errorf("no job with id %s", id)
	}
	return "removed", nil
}
