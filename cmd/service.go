package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const unitTemplate = `[Unit]
Description=plugd Discord agent daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s start --foreground
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

func installServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-service",
		Short: "Write a systemd user unit for plugd",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			dir := filepath.Join(home, ".config", "systemd", "user")
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}

			unitPath := filepath.Join(dir, "plugd.service")
			unit := fmt.Sprintf(unitTemplate, exe)
			if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
				return err
			}

			fmt.Printf("wrote %s\n", unitPath)
			fmt.Println("enable with:")
			fmt.Println("  systemctl --user daemon-reload")
			fmt.Println("  systemctl --user enable --now plugd")
			return nil
		},
	}
}
