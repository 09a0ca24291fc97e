// Package main provides the gauntlet binary entry point.
// Gauntlet runs adaptive capability evaluations over a roster of agents,
// gating external generation calls behind a shared token budget.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	// Register generation providers via init()
	_ "github.com/gauntletlabs/gauntlet/generation/providers"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/config"
	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/engine"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/events"
	"github.com/gauntletlabs/gauntlet/generation"
	"github.com/gauntletlabs/gauntlet/metrics"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/scenario"
	"github.com/gauntletlabs/gauntlet/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gauntlet"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Adaptive capability evaluation engine",
		Long: `Gauntlet continuously evaluates a roster of agents against generated
challenge scenarios. Each cycle picks a difficulty tier from the agent's
pass/fail history, synthesizes a scoring rubric, obtains a response from a
configured generation endpoint, and scores it. Tiers escalate and de-escalate
with streaks; every external call is gated by a shared token budget.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), configPath, logLevel, false)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the evaluation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), configPath, logLevel, false)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single roster pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), configPath, logLevel, true)
		},
	})

	var collabDomain string
	collab := &cobra.Command{
		Use:   "collab [agent-type...]",
		Short: "Run one collaborative cycle and exit",
		Long: `Runs a single collaborative cycle where the named agents (all four when
none are given) answer the same scenario together and share the outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollab(cmd.Context(), configPath, logLevel, collabDomain, args)
		},
	}
	collab.Flags().StringVar(&collabDomain, "domain", "", "Challenge domain (default: lead agent's preferred domain)")
	cmd.AddCommand(collab)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show roster progress and budget utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setupLogger configures the process-wide slog default.
func setupLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig resolves the effective config: an explicit --config file wins,
// otherwise the layered loader (defaults, user config, project config).
func loadConfig(configPath string, logger *slog.Logger) (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, configPath, nil
	}

	loader := config.NewLoader(logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg, loader.ProjectConfigPath(), nil
}

// app holds the wired collaborators shared by the run, once, and collab
// commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	arbiter *ratelimit.Arbiter
	engine  *engine.Engine
	roster  []*agent.State
	nc      *nats.Conn
	metrics *metrics.Metrics
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.NewStore(cfg.Storage.Backend, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	m := metrics.New()

	arbiter, err := ratelimit.NewArbiter(cfg.RateLimits,
		ratelimit.WithLogger(logger),
		ratelimit.WithObserver(m),
	)
	if err != nil {
		return nil, fmt.Errorf("create arbiter: %w", err)
	}

	// Resume budget consumption from the last persisted snapshot so a
	// restart cannot mint a fresh window.
	if snap, ok, err := store.GetBudgetSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("load budget snapshot: %w", err)
	} else if ok {
		arbiter.Restore(snap)
		logger.Info("Restored budget snapshot")
	}

	controller, err := difficulty.NewController(cfg.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("create difficulty controller: %w", err)
	}

	evaluator, err := evaluate.NewEvaluator(cfg.Scoring, evaluate.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create evaluator: %w", err)
	}

	gen, err := generation.NewClient(cfg.Generation.Endpoints,
		generation.WithLogger(logger),
		generation.WithHTTPClient(&http.Client{Timeout: cfg.Generation.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}

	var scenarios scenario.Provider = scenario.NewTemplateProvider()
	if cfg.Scenarios.Source == "llm" {
		scenarios = scenario.NewLLMProvider(gen, scenarios, logger)
	}

	var nc *nats.Conn
	var pub *events.Publisher
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(appName))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		pub = events.NewPublisher(nc, logger)
		logger.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	}

	eng := engine.New(controller, evaluator, arbiter, scenarios, gen, store,
		engine.WithLogger(logger),
		engine.WithEvents(pub),
		engine.WithMetrics(m),
		engine.WithLeveling(cfg.Leveling),
	)

	roster, err := loadRoster(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		arbiter: arbiter,
		engine:  eng,
		roster:  roster,
		nc:      nc,
		metrics: m,
	}, nil
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if err := storage.CloseIfSupported(a.store); err != nil {
		a.logger.Warn("Failed to close store", slog.String("error", err.Error()))
	}
}

// loadRoster resumes persisted agent states and creates fresh ones for any
// agent type the store has never seen. Fresh agents are persisted immediately
// so status works before the first cycle.
func loadRoster(ctx context.Context, store storage.Store) ([]*agent.State, error) {
	roster := make([]*agent.State, 0, len(agent.AllTypes()))
	var fresh []agent.State
	for _, t := range agent.AllTypes() {
		if st, ok, err := store.GetAgentState(ctx, string(t)); err != nil {
			return nil, err
		} else if ok {
			roster = append(roster, &st)
			continue
		}
		st, err := agent.New(t)
		if err != nil {
			return nil, err
		}
		roster = append(roster, st)
		fresh = append(fresh, *st)
	}
	if len(fresh) > 0 {
		if err := store.SaveRoster(ctx, fresh); err != nil {
			return nil, err
		}
	}
	return roster, nil
}

func runLoop(ctx context.Context, configPath, logLevel string, once bool) error {
	logger := setupLogger(logLevel)

	cfg, cfgFile, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Serve Prometheus metrics when configured.
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer srv.Close()
		logger.Info("Metrics listening", slog.String("addr", cfg.Metrics.Listen))
	}

	// Hot-reload budget limits on config file changes.
	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, func(c *config.Config) error {
			return a.arbiter.SetLimits(c.RateLimits)
		}, logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	logger.Info("Gauntlet ready",
		slog.String("version", Version),
		slog.Int("roster", len(a.roster)),
		slog.Duration("interval", cfg.Engine.Interval))

	for {
		records := a.engine.RunRoster(ctx, a.roster)
		for _, rec := range records {
			logger.Info("Cycle finished",
				slog.String("agent", rec.AgentID),
				slog.String("domain", rec.Domain),
				slog.String("tier", rec.Tier.String()),
				slog.String("outcome", string(rec.Outcome)),
				slog.Int("xp", rec.XPAwarded))
		}

		if once {
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case <-time.After(cfg.Engine.Interval):
		}
	}
}

func runCollab(ctx context.Context, configPath, logLevel, domain string, types []string) error {
	logger := setupLogger(logLevel)

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	participants := a.roster
	if len(types) > 0 {
		byID := make(map[string]*agent.State, len(a.roster))
		for _, st := range a.roster {
			byID[st.ID] = st
		}
		participants = make([]*agent.State, 0, len(types))
		for _, name := range types {
			st, ok := byID[name]
			if !ok {
				return fmt.Errorf("unknown agent type %q", name)
			}
			participants = append(participants, st)
		}
	}

	if domain == "" && len(participants) > 0 {
		domain = participants[0].Type.PreferredDomains()[0]
	}

	rec, err := a.engine.RunCollaborative(ctx, participants, domain)
	if err != nil {
		return err
	}

	fmt.Printf("Collaborative cycle %s: %s\n", rec.ID, rec.Outcome)
	if rec.Scored() {
		fmt.Printf("  composite %.1f, xp %d, tokens %s\n",
			rec.Result.Composite, rec.XPAwarded, humanize.Comma(rec.TokensUsed))
	}
	return nil
}

func runStatus(ctx context.Context, configPath, logLevel string) error {
	logger := setupLogger(logLevel)

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewStore(cfg.Storage.Backend, cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer storage.CloseIfSupported(store)

	states, err := store.ListAgentStates(ctx)
	if err != nil {
		return fmt.Errorf("list agent states: %w", err)
	}

	fmt.Println("Roster")
	if len(states) == 0 {
		fmt.Println("  (no cycles recorded yet)")
	}
	for _, st := range states {
		lastSeen := "never"
		if !st.LastTestAt.IsZero() {
			lastSeen = humanize.Time(st.LastTestAt)
		}
		fmt.Printf("  %-10s tier=%-12s level=%-3d xp=%-6s streak=+%d/-%d last=%s\n",
			st.ID,
			st.Progress.Tier,
			st.Level,
			humanize.Comma(int64(st.XP)),
			st.Progress.ConsecutiveSuccesses,
			st.Progress.ConsecutiveFailures,
			lastSeen)
	}

	snap, ok, err := store.GetBudgetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load budget snapshot: %w", err)
	}

	fmt.Println("\nBudget")
	if !ok {
		fmt.Println("  (no snapshot recorded yet)")
		return nil
	}

	names := make([]string, 0, len(snap.Windows))
	for name := range snap.Windows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := snap.Windows[name]
		fmt.Printf("  %-6s %s / %s tokens (%.1f%%) since %s\n",
			name,
			humanize.Comma(w.Consumed),
			humanize.Comma(w.Limit),
			w.Utilization()*100,
			humanize.Time(w.Start))
	}
	return nil
}
