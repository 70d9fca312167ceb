package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nx/nxclaw/internal/agentsvc"
	"github.com/nx/nxclaw/internal/audit"
	"github.com/nx/nxclaw/internal/autoloop"
	"github.com/nx/nxclaw/internal/brainx"
	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/channels"
	"github.com/nx/nxclaw/internal/chromectl"
	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/dashboard"
	"github.com/nx/nxclaw/internal/laneq"
	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/otelx"
	"github.com/nx/nxclaw/internal/policy"
	"github.com/nx/nxclaw/internal/runtime"
	"github.com/nx/nxclaw/internal/safety"
	"github.com/nx/nxclaw/internal/skillmgr"
	"github.com/nx/nxclaw/internal/skillrt"
	"github.com/nx/nxclaw/internal/tasks"
	"github.com/nx/nxclaw/internal/telemetry"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

// app is the fully constructed runtime, held by every subcommand.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	logCloser io.Closer

	bus          *bus.Bus
	otel         *otelx.Provider
	policy       *policy.LivePolicy
	memory       *memstore.Store
	objectives   *objectives.Store
	tasks        *tasks.Manager
	chrome       *chromectl.Controller
	sessions     *agentsvc.Registry
	queue        *laneq.Queue
	skills       *skillmgr.Manager
	skillHost    *skillrt.Host
	orchestrator *runtime.Orchestrator
	autoloop     *autoloop.Loop
	dashboard    *dashboard.Server
}

// buildApp wires every subsystem SPEC_FULL.md names, grounded on
// cmd/goclaw/main.go's construction order: config -> logging -> bus ->
// tracing -> policy -> stores -> skills -> orchestrator -> autonomous loop
// -> dashboard. quiet suppresses the JSON logger's stdout mirror (used by
// interactive subcommands that render their own output).
func buildApp(ctx context.Context, quiet bool) (*app, error) {
	loadDotEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, logCloser: closer}

	a.bus = bus.New(bus.Config{
		Path:          filepath.Join(cfg.HomeDir, "state", "events.jsonl"),
		BufferSize:    500,
		MaxFileBytes:  20 << 20,
		FlushInterval: 500 * time.Millisecond,
		Logger:        logger,
	})

	otelCfg := otelx.Config{Enabled: os.Getenv("NXCLAW_OTEL") == "1" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""}
	provider, err := otelx.Init(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.otel = provider

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		logger.Warn("policy load failed, using default-deny policy", "error", err)
		pol = policy.Default()
	}
	a.policy = policy.NewLivePolicy(pol, cfg.PolicyPath)

	if a.memory, err = memstore.Open(memstore.Config{RootDir: filepath.Join(cfg.HomeDir, "memory")}, a.bus, logger); err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	if a.objectives, err = objectives.Open(filepath.Join(cfg.HomeDir, "state", "objectives.json"), a.bus); err != nil {
		return nil, fmt.Errorf("open objectives store: %w", err)
	}

	executor, err := buildExecutor(cfg.Tasks)
	if err != nil {
		return nil, fmt.Errorf("build task executor: %w", err)
	}
	taskCfg := tasks.Config{
		MaxConcurrentProcesses: cfg.Tasks.MaxConcurrentProcesses,
		DefaultMaxRetries:      cfg.Tasks.DefaultMaxRetries,
		DefaultRetryDelayMs:    cfg.Tasks.DefaultRetryDelayMs,
		MaxStoredTasks:         cfg.Tasks.MaxStoredTasks,
		MaxFinishedTasks:       cfg.Tasks.MaxFinishedTasks,
		SandboxImage:           cfg.Tasks.SandboxImage,
		SandboxMemoryMB:        cfg.Tasks.SandboxMemoryMB,
		SandboxNetworkMode:     cfg.Tasks.SandboxNetworkMode,
	}
	if a.tasks, err = tasks.Open(filepath.Join(cfg.HomeDir, "state", "tasks.json"), filepath.Join(cfg.HomeDir, "logs", "tasks"), taskCfg, executor, a.bus, logger); err != nil {
		return nil, fmt.Errorf("open task manager: %w", err)
	}
	a.tasks.SetTracer(provider.Tracer)

	a.chrome = chromectl.New(chromectl.Config{
		Mode:           chromectl.Mode(cfg.Chrome.Mode),
		DebuggerURL:    cfg.Chrome.DebuggerURL,
		ExecutablePath: cfg.Chrome.ExecutablePath,
		Headless:       cfg.Chrome.Headless,
		MaxSessions:    cfg.Chrome.MaxSessions,
		ViewportWidth:  cfg.Chrome.ViewportWidth,
		ViewportHeight: cfg.Chrome.ViewportHeight,
	}, a.bus)

	a.sessions = agentsvc.New(agentsvc.Config{MaxLanes: 50, IdleTimeout: 30 * time.Minute}, a.bus)
	a.queue = laneq.New(cfg.MaxQueueDepth, a.bus)

	skillHost, err := skillrt.NewHost(ctx, skillrt.HostConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init skill runtime: %w", err)
	}
	a.skillHost = skillHost

	skillsDir := filepath.Join(cfg.HomeDir, "skills")
	builtinDir := filepath.Join(skillsDir, "builtin")
	installedDir := filepath.Join(skillsDir, "installed")
	skillCfg := skillmgr.Config{
		Enabled:             true,
		MaxCatalogEntries:   cfg.Skills.MaxCatalogEntries,
		MaxInstallFiles:     cfg.Skills.MaxInstallFiles,
		MaxInstallBytes:     cfg.Skills.MaxInstallBytes,
		InstallTimeoutMs:    cfg.Skills.InstallTimeoutMs,
		AutoEnableOnInstall: cfg.Skills.AutoEnableOnInstall,
	}
	if a.skills, err = skillmgr.Open(ctx, builtinDir, installedDir, filepath.Join(cfg.HomeDir, "state", "skills.json"), skillCfg, skillHost, a.bus, logger); err != nil {
		return nil, fmt.Errorf("open skill manager: %w", err)
	}

	newBrain := brainx.BuildFromConfig(cfg.LLM.Provider, cfg.LLM.FallbackProviders, cfg.LLM.FailoverThreshold, cfg.LLM.FailoverCooldownSeconds, logger)

	a.orchestrator = runtime.New(runtime.Deps{
		HomeDir:       cfg.HomeDir,
		Sessions:      a.sessions,
		Queue:         a.queue,
		Memory:        a.memory,
		Objectives:    a.objectives,
		Tasks:         a.tasks,
		Chrome:        a.chrome,
		Policy:        a.policy,
		Sanitizer:     safety.NewSanitizer(),
		Bus:           a.bus,
		Logger:        logger,
		NewBrain:      newBrain,
		SkillPreviews: a.skills.PromptPreviews,
		Tracer:        provider.Tracer,
	}, runtime.Config{
		MaxQueueDepth:    cfg.MaxQueueDepth,
		MaxStoredTasks:   cfg.Tasks.MaxStoredTasks,
		MaxFinishedTasks: cfg.Tasks.MaxFinishedTasks,
	})

	a.autoloop = autoloop.New(autoloop.Deps{
		Orchestrator: a.orchestrator,
		Objectives:   a.objectives,
		Bus:          a.bus,
		Logger:       logger,
	}, autoloop.Config{
		IntervalMs:             cfg.Autoloop.TickIntervalSeconds * 1000,
		MaxConcurrentTasks:     cfg.Tasks.MaxConcurrentProcesses,
		MaxConsecutiveFailures: cfg.Autoloop.MaxConsecutiveFails,
	})
	if !cfg.Autoloop.Enabled {
		a.autoloop.Disable("disabled in config")
	}

	a.dashboard = dashboard.NewServer(dashboard.Config{
		BindAddr:     cfg.Dashboard.BindAddr,
		AuthToken:    cfg.Dashboard.AuthToken,
		AllowOrigins: cfg.Dashboard.AllowOrigins,
		Orchestrator: a.orchestrator,
		Memory:       a.memory,
		Objectives:   a.objectives,
		Tasks:        a.tasks,
		Chrome:       a.chrome,
		Policy:       a.policy,
		Bus:          a.bus,
		Logger:       logger,
		LoadConfig:   config.Load,
		SaveConfig:   config.Save,
		AutonomousStatus: func() dashboard.AutonomousStatus {
			st := a.autoloop.Status()
			return dashboard.AutonomousStatus{
				Enabled:             st.Enabled,
				DisabledReason:      st.DisabledReason,
				ConsecutiveFailures: st.ConsecutiveFailures,
				LastTickAt:          st.LastTickAt,
				LastSkipReason:      st.LastSkipReason,
			}
		},
	})

	return a, nil
}

// buildExecutor selects the Docker sandbox executor when configured,
// falling back to the host shell otherwise (spec §4.2, SPEC_FULL.md §6).
func buildExecutor(cfg config.TasksConfig) (tasks.Executor, error) {
	if cfg.SandboxImage == "" {
		return tasks.HostExecutor{}, nil
	}
	return tasks.NewDockerExecutor(tasks.Config{
		SandboxImage:       cfg.SandboxImage,
		SandboxMemoryMB:    cfg.SandboxMemoryMB,
		SandboxNetworkMode: cfg.SandboxNetworkMode,
	})
}

// telegramChannel returns the configured Telegram channel, or nil if
// disabled.
func (a *app) telegramChannel() channels.Channel {
	if !a.cfg.Channels.Telegram.Enabled || a.cfg.Channels.Telegram.Token == "" {
		return nil
	}
	return channels.NewTelegramChannel(a.cfg.Channels.Telegram.Token, a.cfg.Channels.Telegram.AllowedIDs, a.orchestrator, a.logger)
}

// close releases every subsystem holding a file handle or background
// goroutine, in roughly reverse construction order.
func (a *app) close(ctx context.Context) {
	if a.orchestrator != nil {
		a.orchestrator.Shutdown()
	}
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.chrome != nil {
		_ = a.chrome.Shutdown()
	}
	if a.skillHost != nil {
		_ = a.skillHost.Close(ctx)
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	_ = audit.Close()
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
