package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsViewCmd())
	cmd.AddCommand(sessionsClearCmd())
	return cmd
}

func openSessions() (*store.SessionStore, error) {
	st, err := store.OpenSessionStore(config.SessionsDB())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return st, nil
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openSessions()
			if err != nil {
				return err
			}
			defer st.Close()

			infos, err := st.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			fmt.Printf("%-24s %8s %10s  %s\n", "CHANNEL", "MESSAGES", "TOKENS", "UPDATED")
			for _, s := range infos {
				updated := time.Unix(int64(s.UpdatedAt), 0).Local().Format("2006-01-02 15:04")
				fmt.Printf("%-24s %8d %10d  %s\n", s.ChannelID, s.MessageCount, s.ActiveTokens, updated)
			}
			return nil
		},
	}
}

func sessionsViewCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "view <channel-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openSessions()
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.Messages(args[0], all)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("no messages")
				return nil
			}
			for _, m := range msgs {
				ts := time.Unix(int64(m.Timestamp), 0).Local().Format("15:04:05")
				role := strings.ToUpper(m.Role)
				if m.Name != "" {
					role += " (" + m.Name + ")"
				}
				if m.Compacted {
					role += " [compacted]"
				}
				fmt.Printf("[%s] %s: %s\n", ts, role, m.Content)
				for _, tc := range m.ToolCalls {
					fmt.Printf("           -> %s\n", tc.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include compacted messages")
	return cmd
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <channel-id>",
		Short: "Delete a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openSessions()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clear(args[0]); err != nil {
				return err
			}
			fmt.Printf("cleared session %s\n", args[0])
			return nil
		},
	}
}
