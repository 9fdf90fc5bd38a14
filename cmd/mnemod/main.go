package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/classifier"
	"github.com/mnemo-agent/mnemod/config"
	"github.com/mnemo-agent/mnemod/index"
	indexollama "github.com/mnemo-agent/mnemod/index/ollama"
	indexopenai "github.com/mnemo-agent/mnemod/index/openai"
	mnemologger "github.com/mnemo-agent/mnemod/logger"
	"github.com/mnemo-agent/mnemod/manager"
	"github.com/mnemo-agent/mnemod/notify"
	"github.com/mnemo-agent/mnemod/sleep"
	sleepollama "github.com/mnemo-agent/mnemod/sleep/ollama"
)

const defaultAgentID = "default"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "Path to config file. Defaults to the standard location")
		dbPath     = flag.String("db", "", "Path to the SQLite index file. Overrides the config")
		agentID    = flag.String("agent", defaultAgentID, "Agent id for the typed memory stores")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := mnemologger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := *configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *dbPath != "" {
		cfg.IndexPath = *dbPath
	}

	logger.Info().
		Str("root", cfg.MemoryRoot).
		Str("index", cfg.IndexPath).
		Str("agent", *agentID).
		Msg("mnemod starting")

	cls, err := buildClassifier(cfg, logger)
	if err != nil {
		return err
	}
	summarizer, err := buildSummarizer(cfg, logger)
	if err != nil {
		return err
	}

	registry := manager.NewRegistry(func(agentID, workspace string) (*manager.Manager, error) {
		workspaceCfg := *cfg
		workspaceCfg.MemoryRoot = workspace
		if workspace != cfg.MemoryRoot {
			workspaceCfg.IndexPath = ""
		}
		if workspaceCfg.IndexPath == "" {
			workspaceCfg.IndexPath = workspace + "/memory-index.db"
		}

		embedder, err := buildEmbedder(workspaceCfg, logger)
		if err != nil {
			return nil, err
		}
		ix := index.New(index.Options{
			Root:                workspaceCfg.MemoryRoot,
			IndexPath:           workspaceCfg.IndexPath,
			ExtraPaths:          workspaceCfg.Search.ExtraPaths,
			Model:               workspaceCfg.Embedding.Model,
			ChunkTargetSize:     workspaceCfg.Search.ChunkTargetSize,
			VectorWeight:        workspaceCfg.Search.VectorWeight,
			TextWeight:          workspaceCfg.Search.TextWeight,
			CandidateMultiplier: workspaceCfg.Search.CandidateMultiplier,
			MinScore:            workspaceCfg.Search.MinScore,
			MaxResults:          workspaceCfg.Search.MaxResults,
			Disabled:            workspaceCfg.Search.Disabled,
		}, embedder, logger)
		if err := ix.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize index for %s: %w", workspace, err)
		}
		return manager.New(agentID, workspaceCfg, ix, cls, summarizer, logger), nil
	}, logger)
	defer registry.Close() //nolint:errcheck // shutting down anyway

	mgr, err := registry.Get(*agentID, cfg.MemoryRoot)
	if err != nil {
		return err
	}

	// Initial sync so searches against a fresh workspace see its files.
	if _, err := mgr.Sync(context.Background(), "startup", false); err != nil {
		logger.Warn().Err(err).Msg("Startup sync failed, continuing with a stale index")
	}

	scheduler, err := startScheduler(cfg, mgr, logger)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serveMCP(mgr, logger)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
	}

	logger.Info().Msg("mnemod shutdown complete")
	return nil
}

// startScheduler runs the periodic index sync and the prospective-memory
// scan on the configured cron schedule.
func startScheduler(cfg *config.Config, mgr *manager.Manager, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	notifier := notify.New(mgr.Stores().Prospective, logger)

	_, err := c.AddFunc(cfg.SyncSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := mgr.Sync(ctx, "schedule", false); err != nil {
			if err != manager.ErrSyncInFlight {
				logger.Warn().Err(err).Msg("Scheduled sync failed")
			}
		}
		notifier.ScanDue(time.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
	}

	c.Start()
	logger.Info().Str("schedule", cfg.SyncSchedule).Msg("Scheduler started")
	return c, nil
}

func buildEmbedder(cfg config.Config, logger zerolog.Logger) (index.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return indexollama.NewEmbedder(indexollama.Model(cfg.Embedding.Model))
	case "openai":
		return indexopenai.NewEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	case "", "none":
		logger.Info().Msg("No embedding provider configured, search runs text-only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildClassifier(cfg *config.Config, logger zerolog.Logger) (classifier.Classifier, error) {
	switch cfg.Classifier.Provider {
	case "anthropic":
		return classifier.NewAnthropic(cfg.Classifier.APIKey, cfg.Classifier.Model, logger)
	case "", "keyword":
		return classifier.Keyword{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Classifier.Provider)
	}
}

func buildSummarizer(cfg *config.Config, logger zerolog.Logger) (sleep.Summarizer, error) {
	switch cfg.Summarizer.Provider {
	case "ollama":
		return sleepollama.NewSummarizer(cfg.Summarizer.Model)
	case "", "extractive":
		logger.Info().Msg("Using extractive summarizer for compression")
		return sleep.Extractive{}, nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Summarizer.Provider)
	}
}
