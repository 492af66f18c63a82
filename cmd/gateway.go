package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/agent"
	"github.com/Miosa-osa/OSA-sub005/internal/bootstrap"
	"github.com/Miosa-osa/OSA-sub005/internal/budget"
	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/config"
	"github.com/Miosa-osa/OSA-sub005/internal/gateway"
	"github.com/Miosa-osa/OSA-sub005/internal/hooks"
	"github.com/Miosa-osa/OSA-sub005/internal/prompt"
	"github.com/Miosa-osa/OSA-sub005/internal/providers"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
	sig "github.com/Miosa-osa/OSA-sub005/internal/signal"
	"github.com/Miosa-osa/OSA-sub005/internal/store"
	"github.com/Miosa-osa/OSA-sub005/internal/store/pg"
	"github.com/Miosa-osa/OSA-sub005/internal/swarm"
	"github.com/Miosa-osa/OSA-sub005/internal/telemetry"
	"github.com/Miosa-osa/OSA-sub005/internal/tools"
)

// runtime is the assembled core: everything the gateway and the chat
// command front.
type runtime struct {
	cfg          *config.Config
	events       *bus.Bus
	classifier   *sig.Classifier
	filter       *sig.Filter
	sessions     *sessions.Registry
	loop         *agent.Loop
	tools        *tools.Registry
	orchestrator *swarm.Orchestrator
	gate         *budget.Gate
	builder      *prompt.Builder
	workspace    string

	cleanup []func()
}

func (rt *runtime) close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// buildRuntime wires every component from the config.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := slog.Default()
	rt := &runtime{cfg: cfg, events: bus.New()}

	tracer, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.cleanup = append(rt.cleanup, func() {
		shutdownTracing(context.Background())
	})

	// Providers.
	providerReg := providers.NewRegistry()
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		opts := []providers.AnthropicOption{}
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		providerReg.Register(providers.NewAnthropic(key, opts...))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		opts := []providers.OpenAIOption{}
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, providers.WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		providerReg.Register(providers.NewOpenAICompat(key, opts...))
	}
	if err := providerReg.SetDefault(cfg.Runtime.Provider); err != nil {
		return nil, fmt.Errorf("no usable provider %q: set OSA_ANTHROPIC_API_KEY or OSA_OPENAI_API_KEY: %w",
			cfg.Runtime.Provider, err)
	}
	provider, err := providerReg.Resolve(cfg.Runtime.Provider)
	if err != nil {
		return nil, err
	}

	// Durable state.
	storeDir := config.ExpandHome(cfg.Store.Dir)
	var history store.HistoryStore
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pgHistory, err := pg.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}
		rt.cleanup = append(rt.cleanup, func() { pgHistory.Close() })
		history = pgHistory
		logger.Info("history store: postgres")
	} else {
		fileHistory, err := store.NewFileHistory(filepath.Join(storeDir, "history"))
		if err != nil {
			return nil, fmt.Errorf("file history: %w", err)
		}
		history = fileHistory
		logger.Info("history store: jsonl", "dir", storeDir)
	}
	profiles, err := store.NewProfileStore(filepath.Join(storeDir, "profiles"))
	if err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}

	// Tools behind the safety policy.
	workspace := config.ExpandHome(cfg.Tools.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	if seeded, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		logger.Warn("workspace profile seeding failed", "error", err)
	} else if len(seeded) > 0 {
		logger.Info("seeded workspace profile", "files", seeded)
	}

	policy, err := tools.NewPolicy(workspace, cfg.Tools.AllowPaths, cfg.Tools.DenyPatterns)
	if err != nil {
		return nil, fmt.Errorf("tool policy: %w", err)
	}
	rt.tools = tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewExecTool(policy),
		tools.NewReadFileTool(policy),
		tools.NewWriteFileTool(policy),
		tools.NewListFilesTool(policy),
		tools.CurrentTimeTool{},
	} {
		if err := rt.tools.Register(t); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", t.Name(), err)
		}
	}

	// Budget gate.
	var gateOpts []budget.Option
	gateOpts = append(gateOpts, budget.WithBus(rt.events))
	if path := cfg.Budget.LedgerPath; path != "" {
		ledger, err := budget.OpenLedger(config.ExpandHome(path))
		if err != nil {
			return nil, fmt.Errorf("budget ledger: %w", err)
		}
		rt.cleanup = append(rt.cleanup, func() { ledger.Close() })
		gateOpts = append(gateOpts, budget.WithLedgerStore(ledger))
	}
	rt.gate = budget.NewGate(budget.Limits{
		PerCall: cfg.Budget.PerCallUSD,
		Daily:   cfg.Budget.DailyUSD,
		Monthly: cfg.Budget.MonthlyUSD,
	}, logger, gateOpts...)

	// Hooks.
	hookReg := hooks.NewRegistry(logger)
	hooks.RegisterBuiltins(hookReg, hooks.BuiltinDeps{
		Policy:      policy,
		LoadProfile: profiles.Load,
		CheckBudget: func(sessionID string) error {
			if rt.gate.Check(sessionID, 0) == budget.Deny {
				return errors.New("budget limit reached")
			}
			return nil
		},
		FlushMemory: func(sessionID string, data map[string]any) {
			if len(data) == 0 {
				return
			}
			if err := profiles.Save("session-"+sessionID, data); err != nil {
				logger.Warn("memory flush failed", "session_id", sessionID, "error", err)
			}
		},
		Logger: logger,
	})

	// Context builder: tool catalogue plus the fixed behavioural profile.
	builder := prompt.NewBuilder(prompt.HeuristicTokenizer{},
		cfg.Runtime.ContextWindow, cfg.Runtime.ResponseReserve)
	builder.SetStaticInputs(catalogueOf(rt.tools), bootstrap.LoadProfile(workspace))
	rt.builder = builder
	rt.workspace = workspace

	// Sessions, loop, swarms.
	rt.classifier = sig.NewClassifier()
	rt.filter = sig.NewFilter(cfg.Signal.NoiseThreshold)
	rt.sessions = sessions.NewRegistry(rt.events, logger,
		sessions.WithIdleTTL(cfg.Sessions.IdleTTLDuration()),
		sessions.WithHistoryLoader(func(sessionID string) []providers.Message {
			msgs, err := history.Load(sessionID)
			if err != nil {
				logger.Warn("history load failed", "session_id", sessionID, "error", err)
			}
			return msgs
		}),
		sessions.WithEndHook(func(sessionID, userID string) {
			hookReg.Run(context.Background(), hooks.EventSessionEnd, &hooks.Payload{
				SessionID: sessionID,
				UserID:    userID,
				Timestamp: time.Now().UTC(),
			})
		}))
	rt.cleanup = append(rt.cleanup, rt.sessions.Close)

	rt.loop = agent.New(agent.Config{
		Provider:      provider,
		Tools:         rt.tools,
		Hooks:         hookReg,
		Events:        rt.events,
		Gate:          rt.gate,
		Builder:       builder,
		Tokenizer:     prompt.HeuristicTokenizer{},
		MaxIterations: cfg.Runtime.MaxIterations,
		Model:         cfg.Runtime.Model,
		MaxTokens:     cfg.Runtime.MaxTokens,
		Tracer:        tracer,
		Persist: func(sessionID string, m providers.Message) {
			if err := history.Append(sessionID, m); err != nil {
				logger.Warn("history append failed", "session_id", sessionID, "error", err)
			}
		},
		Logger: logger,
	})

	rt.orchestrator = swarm.NewOrchestrator(provider,
		&swarm.LLMPlanner{Provider: provider, Model: cfg.Runtime.Model, Logger: logger},
		rt.events,
		swarmLimits(cfg.Swarm), logger)

	return rt, nil
}

func swarmLimits(c config.SwarmConfig) swarm.Limits {
	return swarm.Limits{
		MaxConcurrentSwarms: c.MaxConcurrent,
		MaxAgentsPerSwarm:   c.MaxWorkers,
		DefaultTimeout:      c.TimeoutDuration(),
	}
}

func catalogueOf(reg *tools.Registry) []prompt.CatalogueEntry {
	snap := reg.Snapshot()
	entries := make([]prompt.CatalogueEntry, 0, len(snap.Names()))
	for _, name := range snap.Names() {
		t, _ := snap.Get(name)
		entries = append(entries, prompt.CatalogueEntry{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return entries
}

func runGateway() {
	setupLogging()
	logger := slog.Default()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	// Hot reload: threshold, context limits, and the static prompt base
	// follow the file.
	stopWatch, err := config.Watch(ctx, cfgPath, cfg, logger, func(c *config.Config) {
		rt.filter.Threshold = c.Signal.NoiseThreshold
		rt.builder.SetLimits(c.Runtime.ContextWindow, c.Runtime.ResponseReserve)
		rt.builder.SetStaticInputs(catalogueOf(rt.tools), bootstrap.LoadProfile(rt.workspace))
	})
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	server := gateway.NewServer(gateway.Options{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		SharedSecret:    cfg.Gateway.SharedSecret,
		AllowedOrigins:  cfg.Gateway.AllowedOrigins,
		RateLimitRPM:    cfg.Gateway.RateLimitRPM,
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
	}, gateway.Deps{
		Classifier:   rt.classifier,
		Filter:       rt.filter,
		Sessions:     rt.sessions,
		Loop:         rt.loop,
		Tools:        rt.tools,
		Orchestrator: rt.orchestrator,
		Events:       rt.events,
		Logger:       logger,
	})

	if err := server.Start(ctx); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}
