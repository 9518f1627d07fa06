package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/plugd/internal/bus"
	"github.com/nextlevelbuilder/plugd/internal/store"
)

// CronExecutor runs due cron payloads: system events go straight to
// the channel, agent turns run an isolated loop first.
type CronExecutor struct {
	orch   *Orchestrator
	sender bus.Sender
	log    *slog.Logger
}

func NewCronExecutor(orch *Orchestrator, sender bus.Sender, log *slog.Logger) *CronExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &CronExecutor{orch: orch, sender: sender, log: log}
}

func (e *CronExecutor) Execute(ctx context.Context, job *store.CronJob) (string, error) {
	switch job.PayloadKind {
	case "system_event", "":
		content := "⏰ " + job.PayloadText
		if err := e.sender.Send(ctx, bus.OutboundMessage{ChannelID: job.ChannelID, Content: content}); err != nil {
			return "", fmt.Errorf("deliver system event: %w", err)
		}
		return "delivered", nil

	case "agent_turn":
		result, err := e.orch.RunIsolated(ctx, job.PayloadText, job.ChannelID, job.PayloadModel)
		if err != nil {
			return "", err
		}
		if result != "" {
			if err := e.sender.Send(ctx, bus.OutboundMessage{ChannelID: job.ChannelID, Content: result}); err != nil {
				e.log.Warn("deliver cron result", "job_id", job.ID, "error", err)
			}
		}
		return result, nil

	default:
		return "", fmt.Errorf("unknown payload kind %q", job.PayloadKind)
	}
}
