package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/daemon"
)

const stopGrace = 10 * time.Second

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := daemon.Running(config.PidFile())
			if pid == 0 {
				fmt.Println("plugd is not running")
				return nil
			}
			if err := daemon.Stop(config.PidFile(), stopGrace); err != nil {
				return err
			}
			fmt.Printf("plugd stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon.Running(config.PidFile()) != 0 {
				if err := daemon.Stop(config.PidFile(), stopGrace); err != nil {
					return err
				}
			}
			return detachDaemon()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			if pid := daemon.Running(config.PidFile()); pid != 0 {
				fmt.Printf("plugd is running (pid %d)\n", pid)
			} else {
				fmt.Println("plugd is not running")
			}
			fmt.Printf("config: %s\n", resolveConfigPath())
			fmt.Printf("logs:   %s\n", config.LogFile())
		},
	}
}
