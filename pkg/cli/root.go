// Package cli provides the command-line interface for pulse-engine. Every
// pipeline stage is a subcommand; commands share one wiring path from
// configuration through the connection pool to the services.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/logging"
	"github.com/osspulse/pulse-engine/pkg/repositories"
	"github.com/osspulse/pulse-engine/pkg/services"
)

var (
	// version is set from main via Execute.
	version = "dev"

	// Global flags
	configPath string

	// Shared wiring, populated by PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB

	ghClient         *github.Client
	jobRunService    services.JobRunService
	queueService     services.QueueService
	discoveryService services.DiscoveryService
	analysisService  services.AnalysisService
	watchlistService services.WatchlistService
)

var rootCmd = &cobra.Command{
	Use:   "pulse-engine",
	Short: "Budgeted GitHub data collection and watchlist scoring",
	Long: `Pulse-engine discovers fast-rising open-source repositories, keeps a
prioritized analysis queue, collects deep health metrics under a strict
API-call budget and scores the results into ranked watchlist generations.

Every stage runs as a discrete, auditable job:
  discover       broad sweep of the eligible universe (cheap, search API)
  refresh-queue  recompute analysis priorities from current signals
  analyze        deep per-repo metric collection under a call budget
  watchlist      score accumulated snapshots into a new generation
  status         recent job runs and queue state
  migrate        apply database schema migrations`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version", "completion":
			return nil
		}

		var err error
		cfg, err = config.LoadFile(configPath, version)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Env)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		// Migrations run against a bare database/sql handle; the pool and
		// services are only wired for pipeline commands.
		if cmd.Name() == "migrate" {
			return nil
		}

		ctx := context.Background()
		db, err = database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		ghClient = github.NewClient(github.Config{
			BaseURL:         cfg.GitHub.BaseURL,
			Token:           cfg.GitHub.Token,
			SafetyThreshold: cfg.GitHub.SafetyThreshold,
			MaxRetries:      cfg.GitHub.MaxRetries,
			Timeout:         time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
		}, logger)

		repoRepo := repositories.NewRepoRepository(db)
		discoveryRepo := repositories.NewDiscoverySnapshotRepository(db)
		deepRepo := repositories.NewDeepSnapshotRepository(db)
		queueRepo := repositories.NewQueueRepository(db)
		jobRunRepo := repositories.NewJobRunRepository(db)
		watchlistRepo := repositories.NewWatchlistRepository(db)

		jobRunService = services.NewJobRunService(jobRunRepo, logger)
		queueService = services.NewQueueService(repoRepo, queueRepo, discoveryRepo, jobRunService, cfg.Queue, logger)
		discoveryService = services.NewDiscoveryService(ghClient, repoRepo, discoveryRepo,
			queueService, jobRunService, cfg.Discovery, logger)
		analysisService = services.NewAnalysisService(ghClient, deepRepo, queueService,
			jobRunService, cfg.Analysis, logger)
		watchlistService = services.NewWatchlistService(repoRepo, deepRepo, discoveryRepo,
			watchlistRepo, jobRunService, cfg.Watchlist, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(refreshQueueCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchlistCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)

	watchlistCmd.AddCommand(watchlistLatestCmd)
}

// Execute runs the root command.
func Execute(v string) error {
	version = v
	rootCmd.Version = v
	return rootCmd.Execute()
}

// runContext returns a context cancelled on SIGINT/SIGTERM, so an
// interrupted pipeline run is sealed as aborted instead of left open.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
