package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/cron"
	"github.com/nextlevelbuilder/plugd/internal/store"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronRunsCmd())
	return cmd
}

func openCron() (*store.CronStore, error) {
	st, err := store.OpenCronStore(config.CronDB())
	if err != nil {
		return nil, fmt.Errorf("open cron store: %w", err)
	}
	return st, nil
}

func fmtUnix(ts *float64) string {
	if ts == nil {
		return "-"
	}
	return time.Unix(int64(*ts), 0).Local().Format("2006-01-02 15:04")
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCron()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.List()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			fmt.Printf("%-36s %-20s %-8s %-24s %-16s %s\n", "ID", "NAME", "ENABLED", "SCHEDULE", "NEXT RUN", "RUNS")
			for _, j := range jobs {
				schedule := ""
				switch j.ScheduleKind {
				case "cron":
					schedule = j.ScheduleCronExpr
				case "every":
					schedule = "every " + (time.Duration(j.ScheduleEveryMS) * time.Millisecond).String()
				case "at":
					at := j.ScheduleAt
					schedule = "at " + fmtUnix(&at)
				}
				fmt.Printf("%-36s %-20s %-8t %-24s %-16s %d\n",
					j.ID, j.Name, j.Enabled, schedule, fmtUnix(j.NextRun), j.RunCount)
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	var (
		name, message, channel string
		cronExpr, tz           string
		everySec               int
		atTime                 string
		kind, model            string
		timeout                int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a job",
		Long:  "Schedule a job. Provide exactly one of --cron, --every, or --at.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCron()
			if err != nil {
				return err
			}
			defer st.Close()

			job := &store.CronJob{
				Name:           name,
				PayloadKind:    kind,
				PayloadText:    message,
				PayloadModel:   model,
				PayloadTimeout: timeout,
				ChannelID:      channel,
			}
			switch {
			case cronExpr != "":
				job.ScheduleKind = "cron"
				job.ScheduleCronExpr = cronExpr
				job.ScheduleTZ = tz
			case everySec > 0:
				job.ScheduleKind = "every"
				job.ScheduleEveryMS = int64(everySec) * 1000
			case atTime != "":
				t, err := time.Parse(time.RFC3339, atTime)
				if err != nil {
					return fmt.Errorf("parse --at (want RFC3339): %w", err)
				}
				job.ScheduleKind = "at"
				job.ScheduleAt = float64(t.Unix())
			default:
				return fmt.Errorf("provide one of --cron, --every, or --at")
			}

			// The scheduler validates and computes the first fire time; the
			// executor is only needed by the running daemon.
			if err := cron.NewScheduler(st, nil, nil).Add(job); err != nil {
				return err
			}
			fmt.Printf("added job %s, next run %s\n", job.ID, fmtUnix(job.NextRun))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&message, "message", "", "payload text or agent task")
	cmd.Flags().StringVar(&channel, "channel", "", "target channel id")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression (Monday=0)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for --cron")
	cmd.Flags().IntVar(&everySec, "every", 0, "repeat interval in seconds")
	cmd.Flags().StringVar(&atTime, "at", "", "one-shot fire time, RFC3339")
	cmd.Flags().StringVar(&kind, "kind", "system_event", "payload kind: system_event or agent_turn")
	cmd.Flags().StringVar(&model, "model", "", "model override for agent_turn")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "payload timeout in seconds")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("message")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCron()
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := st.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Println("removed")
			return nil
		},
	}
}

func cronRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <job-id>",
		Short: "Show a job's recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCron()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(args[0], limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			for _, r := range runs {
				started := time.Unix(int64(r.StartedAt), 0).Local().Format("2006-01-02 15:04:05")
				dur := time.Duration((r.FinishedAt - r.StartedAt) * float64(time.Second)).Round(time.Millisecond)
				line := fmt.Sprintf("%s  %-7s  %s", started, r.Status, dur)
				if r.Error != "" {
					line += "  " + r.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
