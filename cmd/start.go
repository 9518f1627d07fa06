package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/agent"
	"github.com/nextlevelbuilder/plugd/internal/bus"
	"github.com/nextlevelbuilder/plugd/internal/channels/discord"
	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/cron"
	"github.com/nextlevelbuilder/plugd/internal/daemon"
	"github.com/nextlevelbuilder/plugd/internal/health"
	"github.com/nextlevelbuilder/plugd/internal/providers"
	"github.com/nextlevelbuilder/plugd/internal/router"
	"github.com/nextlevelbuilder/plugd/internal/sessions"
	"github.com/nextlevelbuilder/plugd/internal/store"
	"github.com/nextlevelbuilder/plugd/internal/telemetry"
	"github.com/nextlevelbuilder/plugd/internal/tools"
)

func startCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon (detached by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground || daemon.IsChild() {
				return runDaemon()
			}

			return detachDaemon()
		},
	}
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground")
	return cmd
}

// detachDaemon re-execs plugd in the background and prints the pid.
func detachDaemon() error {
	if pid := daemon.Running(config.PidFile()); pid != 0 {
		return fmt.Errorf("already running with pid %d", pid)
	}
	if err := os.MkdirAll(config.Dir(), 0755); err != nil {
		return err
	}

	childArgs := []string{"start", "--foreground"}
	if cfgFile != "" {
		childArgs = append(childArgs, "--config", cfgFile)
	}
	if verbose {
		childArgs = append(childArgs, "--verbose")
	}
	pid, err := daemon.Detach(config.LogFile(), childArgs)
	if err != nil {
		return err
	}
	fmt.Printf("plugd started (pid %d), logs at %s\n", pid, config.LogFile())
	return nil
}

// runDaemon runs the gateway, under the restart supervisor when the
// detached child has auto-restart enabled.
func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.Dir(), 0755); err != nil {
		return err
	}
	if err := daemon.WritePidFile(config.PidFile()); err != nil {
		return err
	}
	defer daemon.RemovePidFile(config.PidFile())

	if cfg.Daemon.AutoRestart && daemon.IsChild() {
		sup := &daemon.Supervisor{
			MaxRestarts: cfg.Daemon.MaxRestarts,
			Window:      time.Duration(cfg.Daemon.RestartWindow) * time.Second,
		}
		return sup.Run(func() error { return runGateway(cfg) })
	}
	return runGateway(cfg)
}

// runGateway wires the whole daemon together and blocks until SIGINT
// or SIGTERM.
func runGateway(cfg *config.Config) error {
	log := slog.Default()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	sessStore, err := store.OpenSessionStore(config.SessionsDB())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessStore.Close()

	cronStore, err := store.OpenCronStore(config.CronDB())
	if err != nil {
		return fmt.Errorf("open cron store: %w", err)
	}
	defer cronStore.Close()

	chain := buildChain(ctx, cfg, log)

	rtr := router.New(cfg.Router, personaChainFactory(cfg, log), log)
	defer rtr.Close()

	var compactor *sessions.Compactor
	if cfg.Compaction.Enabled {
		compactor = sessions.NewCompactor(sessStore, chain,
			cfg.Compaction.MaxContextTokens, cfg.Compaction.TargetTokens,
			cfg.Compaction.SummaryModel, log)
	}

	registry := tools.NewRegistry(log)
	registry.Register(tools.NewExecTool(cfg.Agent))
	registry.Register(&tools.ReadFileTool{Workspace: cfg.Agent.Workspace})
	registry.Register(&tools.WriteFileTool{Workspace: cfg.Agent.Workspace})
	registry.Register(&tools.EditFileTool{Workspace: cfg.Agent.Workspace})
	registry.Register(&tools.ListDirTool{Workspace: cfg.Agent.Workspace})
	registry.Register(tools.NewWebFetchTool())
	registry.Register(&tools.MemorySearchTool{})
	registry.Register(&tools.MemoryStageTool{})

	orchParams := agent.OrchestratorParams{
		Store:      sessStore,
		Chain:      chain,
		Tools:      registry,
		Router:     rtr,
		AgentCfg:   cfg.Agent,
		ModelsCfg:  cfg.Models,
		Reportback: cfg.Reportback,
		Log:        log,
	}
	if compactor != nil {
		orchParams.Compactor = compactor
	}
	orch := agent.NewOrchestrator(orchParams)

	var gw *discord.Gateway
	handler := func(ctx context.Context, msg bus.InboundMessage) {
		orch.HandleMessage(ctx, msg, gw)
	}
	gw, err = discord.New(cfg.Discord, rtr, handler, log)
	if err != nil {
		return err
	}

	mgr := agent.NewSubAgentManager(cfg.Agent.MaxSubagents, orch.RunIsolated, gw.Deliver, log)
	registry.Register(&tools.SpawnAgentTool{Manager: mgr})
	registry.Register(&tools.ListAgentsTool{Manager: mgr})
	registry.Register(&tools.CancelAgentTool{Manager: mgr})

	sched := cron.NewScheduler(cronStore, agent.NewCronExecutor(orch, gw, log), log)
	registry.Register(&tools.CronAddTool{Scheduler: sched})
	registry.Register(&tools.CronListTool{Store: cronStore})
	registry.Register(&tools.CronRemoveTool{Store: cronStore})

	checker := health.NewChecker(cfg.Models.Proxy.BaseURL, log)

	if err := gw.Start(ctx); err != nil {
		return err
	}
	defer gw.Close()

	go sched.Run(ctx)
	go checker.Run(ctx)
	go reapFinishedSubAgents(ctx, mgr)

	log.Info("plugd running", "pid", os.Getpid(), "workspace", cfg.Agent.Workspace)
	<-ctx.Done()

	log.Info("shutting down")
	if n := mgr.CancelAll(); n > 0 {
		log.Info("cancelled sub-agents", "count", n)
	}
	return nil
}

// buildChain assembles the shared provider chain: the proxy with the
// configured model list, then Ollama models that are actually pulled.
func buildChain(ctx context.Context, cfg *config.Config, log *slog.Logger) *providers.Chain {
	proxy := providers.NewProxyProvider("proxy",
		cfg.Models.Proxy.BaseURL, cfg.Models.Proxy.APIKey, cfg.Models.Primary,
		time.Duration(cfg.Models.Proxy.Timeout*float64(time.Second)))

	models := append([]string{cfg.Models.Primary}, cfg.Models.Fallbacks...)

	var fallbacks []providers.Fallback
	if cfg.Ollama.Enabled {
		ollama := providers.NewOllamaProvider(cfg.Ollama.BaseURL, "", time.Duration(cfg.Ollama.Timeout*float64(time.Second)))
		if ollama.Available(ctx) {
			pulled, err := ollama.ListModels(ctx)
			if err != nil {
				log.Warn("ollama model listing failed", "error", err)
			} else if local := intersect(cfg.Ollama.Models, pulled); len(local) > 0 {
				fallbacks = append(fallbacks, providers.Fallback{Provider: ollama, Models: local})
				log.Info("ollama fallback enabled", "models", local)
			} else {
				log.Warn("ollama reachable but no configured models are pulled")
			}
		} else {
			log.Info("ollama not reachable, skipping local fallback")
		}
	}

	return providers.NewChain(proxy, models, fallbacks,
		cfg.Models.MaxRetries,
		time.Duration(cfg.Models.RetryDelay*float64(time.Second)),
		log)
}

// personaChainFactory builds pinned chains for personas that override
// the endpoint or model.
func personaChainFactory(cfg *config.Config, log *slog.Logger) router.ChainFactory {
	return func(p *config.PersonaConfig) *providers.Chain {
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.Proxy.BaseURL
		}
		model := p.Model
		if model == "" {
			model = cfg.Models.Primary
		}
		prov := providers.NewProxyProvider("persona:"+p.Name,
			baseURL, cfg.Models.Proxy.APIKey, model,
			time.Duration(cfg.Models.Proxy.Timeout*float64(time.Second)))
		return providers.NewChain(prov, []string{model}, nil,
			cfg.Models.MaxRetries,
			time.Duration(cfg.Models.RetryDelay*float64(time.Second)),
			log)
	}
}

func reapFinishedSubAgents(ctx context.Context, mgr *agent.SubAgentManager) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Cleanup(time.Hour)
		}
	}
}

func intersect(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, m := range have {
		set[m] = true
	}
	var out []string
	for _, m := range want {
		if set[m] {
			out = append(out, m)
		}
	}
	return out
}
