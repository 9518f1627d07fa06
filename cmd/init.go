package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			token := cfg.Discord.Token
			baseURL := cfg.Models.Proxy.BaseURL
			apiKey := cfg.Models.Proxy.APIKey
			primary := cfg.Models.Primary
			workspace := cfg.Agent.Workspace
			dmPolicy := cfg.Discord.DMPolicy
			requireMention := cfg.Discord.RequireMention
			compaction := cfg.Compaction.Enabled
			ollama := cfg.Ollama.Enabled

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Discord bot token").
						Description("From the Discord developer portal (Bot tab).").
						EchoMode(huh.EchoModePassword).
						Value(&token),
					huh.NewInput().
						Title("LLM proxy base URL").
						Description("OpenAI-compatible endpoint, e.g. http://localhost:3000/v1").
						Value(&baseURL),
					huh.NewInput().
						Title("Proxy API key").
						Value(&apiKey),
					huh.NewInput().
						Title("Primary model").
						Value(&primary),
					huh.NewInput().
						Title("Agent workspace").
						Description("Directory the agent's file and shell tools operate in.").
						Value(&workspace),
				),
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("DM policy").
						Options(
							huh.NewOption("allowlist (only listed user IDs)", "allowlist"),
							huh.NewOption("open (anyone can DM)", "open"),
						).
						Value(&dmPolicy),
					huh.NewConfirm().
						Title("Require @mention in guild channels?").
						Value(&requireMention),
					huh.NewConfirm().
						Title("Enable session compaction?").
						Value(&compaction),
					huh.NewConfirm().
						Title("Enable Ollama local fallback?").
						Value(&ollama),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg.Discord.Token = token
			cfg.Models.Proxy.BaseURL = baseURL
			cfg.Models.Proxy.APIKey = apiKey
			cfg.Models.Primary = primary
			cfg.Agent.Workspace = config.ExpandHome(workspace)
			cfg.Discord.DMPolicy = dmPolicy
			cfg.Discord.RequireMention = requireMention
			cfg.Compaction.Enabled = compaction
			cfg.Ollama.Enabled = ollama

			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("wrote %s\n", path)
			fmt.Println("start the daemon with: plugd start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
