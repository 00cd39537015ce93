package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mainthread/mainthread/internal/agent/claudecli"
	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/config"
	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/logging"
	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/rendezvous"
	"github.com/mainthread/mainthread/internal/server"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/sysprompt"
	"github.com/mainthread/mainthread/internal/taskreg"
	"github.com/mainthread/mainthread/internal/tools"
)

var version = "dev"

func main() {
	logging.Setup()

	flags := config.DefineFlags()
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error); overrides config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(flags, *logLevel); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags *config.Config, logLevel string) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	lvl, err := logging.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logging.SetLevel(lvl)

	logging.PrintBanner(version, cfg.Addr)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()
	st := store.New(db)
	b := bus.New(st, log)
	tasks := taskreg.New()
	prompts := rendezvous.New(log)

	// The driver's callbacks close over orch, which is constructed
	// after the engine. They only fire once turns run.
	var orch *orchestrator.Orchestrator

	driver := claudecli.New(claudecli.Options{
		Tools: func(threadID string) claudecli.ToolSet {
			return tools.NewRegistry(orch, threadID, log)
		},
		CanUseTool: func(ctx context.Context, threadID, toolName string, input json.RawMessage) claudecli.PermissionDecision {
			return askToolPermission(ctx, orch, threadID, toolName, input)
		},
		SystemPrompt: func(threadID string) string {
			th, err := st.GetThread(context.Background(), threadID)
			if err != nil {
				return ""
			}
			return sysprompt.Build(th)
		},
		Log: log,
	})

	engCfg := engine.DefaultConfig()
	engCfg.MaxConcurrent = int64(cfg.MaxAgents)
	engCfg.AgentTimeout = time.Duration(cfg.AgentTimeout) * time.Second
	engCfg.MaxRetries = cfg.MaxRetries
	engCfg.RetryDelay = time.Duration(cfg.RetryDelay) * time.Second
	eng := engine.New(st, b, tasks, driver, engCfg, log)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.AgentTimeout = time.Duration(cfg.AgentTimeout) * time.Second
	orchCfg.QuestionTimeout = time.Duration(cfg.QuestionTimeout) * time.Second
	orchCfg.PlanTimeout = time.Duration(cfg.PlanTimeout) * time.Second
	orchCfg.WatchdogInterval = time.Duration(cfg.WatchdogInterval) * time.Second
	orchCfg.HousekeepInterval = time.Duration(cfg.HousekeepInterval) * time.Second
	orchCfg.EventRetention = time.Duration(cfg.EventRetention) * time.Second
	orch = orchestrator.New(ctx, st, b, eng, tasks, prompts, orchCfg, log)
	defer orch.Shutdown()

	if err := orch.Startup(ctx); err != nil {
		return err
	}
	go orch.RunWatchdog(ctx)
	go orch.RunHousekeeper(ctx)

	return server.New(cfg, st, b, orch, tasks, log).Serve(ctx)
}
