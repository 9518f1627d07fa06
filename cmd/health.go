package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/daemon"
	"github.com/nextlevelbuilder/plugd/internal/health"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the LLM proxy and report daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if pid := daemon.Running(config.PidFile()); pid != 0 {
				fmt.Printf("daemon: running (pid %d)\n", pid)
			} else {
				fmt.Println("daemon: not running")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			st := health.NewChecker(cfg.Models.Proxy.BaseURL, nil).CheckNow(ctx)
			if st.Healthy {
				fmt.Printf("proxy:  healthy (%s)\n", cfg.Models.Proxy.BaseURL)
				return nil
			}
			fmt.Printf("proxy:  unhealthy (%s): %s\n", cfg.Models.Proxy.BaseURL, st.LastError)
			return nil
		},
	}
}
