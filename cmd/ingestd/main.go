package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ingestd/mediaforge/internal/api"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/cdn"
	"github.com/ingestd/mediaforge/internal/checkpoint"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/config"
	"github.com/ingestd/mediaforge/internal/observability"
	"github.com/ingestd/mediaforge/internal/persist"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/scan"
	"github.com/ingestd/mediaforge/internal/scheduler"
	"github.com/ingestd/mediaforge/internal/types"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingestd",
		Short: "ingestd — incremental media-ingestion engine",
		Long: `ingestd polls a catalog of (source, thread) pairs on a schedule,
scans each for new media through a pluggable adapter, and persists what it
finds exactly once, resuming from a per-thread checkpoint across runs.

Components:
  • Token-bucket rate limiting and a circuit breaker per source
  • A process-wide concurrency limiter across in-flight scans
  • An asynq-backed durable job queue with catch-up resumption
  • Postgres checkpoint and item storage, with optional S3/R2 and Mongo sinks
  • Prometheus metrics and an admin HTTP control surface`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd starts the long-running poller, worker pool, metrics server, and
// admin API — the engine's steady-state process.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, worker pool, and admin API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkpoints, err := checkpoint.NewStore(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	catalog, err := scheduler.NewPGCatalog(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	defer catalog.Close()

	var cdnUploader persist.CDNUploader
	if cfg.CDN.Enabled {
		uploader, err := cdn.NewS3Uploader(ctx, cfg.CDN.ToCDNConfig())
		if err != nil {
			return fmt.Errorf("connect CDN uploader: %w", err)
		}
		cdnUploader = uploader
	}

	var archiver persist.Archiver
	if cfg.Archive.Enabled {
		a, err := persist.NewMongoArchiver(ctx, cfg.Archive.URI, cfg.Archive.Database, cfg.Archive.Collection, logger)
		if err != nil {
			return fmt.Errorf("connect archive sink: %w", err)
		}
		archiver = a
	}

	store, err := persist.NewStore(ctx, cfg.Database.URL, cdnUploader, archiver, nil, logger)
	if err != nil {
		return fmt.Errorf("connect persistence store: %w", err)
	}
	defer store.Close()

	var domainMetrics *observability.DomainMetrics
	if cfg.Metrics.Enabled {
		domainMetrics = observability.NewDomainMetrics(logger)
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), logger)
	if domainMetrics != nil {
		breakers.OnStateChange = func(sourceID, state string) {
			domainMetrics.CircuitBreakerState.WithLabelValues(sourceID).Set(observability.BreakerStateValue(state))
		}
	}
	limiters := ratelimit.NewRegistry(logger)
	conc := concurrency.New(0, logger)

	if domainMetrics != nil {
		checkpoints.OnFailureCountChanged = func(threadID string, count int) {
			domainMetrics.CheckpointConsecutiveFailures.WithLabelValues(threadID).Set(float64(count))
		}
	}

	scanner := scan.New(checkpoints, store, breakers, limiters, conc, cfg.Scan, logger)
	if domainMetrics != nil {
		scanner.OnRunFinished(func(status types.RunStatus) {
			domainMetrics.IngestRunsTotal.WithLabelValues(string(status)).Inc()
		})
	}

	// The worker needs its own queue client for catch-up re-enqueue;
	// Scheduler.New builds a second one internally for the poller/admin
	// surface. Both talk to the same Redis instance, so this just means two
	// lightweight asynq clients rather than one shared pointer.
	workerQueue, err := scheduler.NewQueueClient(cfg.Scheduler.RedisURL)
	if err != nil {
		return fmt.Errorf("connect worker queue client: %w", err)
	}
	worker := scheduler.NewWorker(scanner, breakers, limiters, conc, workerQueue, logger)

	sched, err := scheduler.New(cfg.Scheduler, catalog, worker, logger)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Shutdown()

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, domainMetrics); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	apiServer := api.NewServer(cfg.API.Addr, sched, breakers, limiters, logger)
	if err := apiServer.Start(); err != nil {
		logger.Warn("failed to start admin API", "error", err)
	}

	logger.Info("ingestd serving", "api_addr", cfg.API.Addr)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func triggerCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Print the admin API call that triggers an immediate poll cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Info("trigger requested", "thread_id", threadID, "api_addr", cfg.API.Addr)
			fmt.Printf("POST %s%s to trigger this ingestion cycle.\n", cfg.API.Addr, triggerPath(threadID))
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "trigger a single thread by id instead of all sources")
	return cmd
}

func triggerPath(threadID string) string {
	if threadID == "" {
		return "/api/trigger"
	}
	return "/api/trigger/" + threadID
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the admin API endpoints that report queue, breaker, and limiter status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("GET %s/api/queue/stats, %s/api/breakers, %s/api/limiters\n", cfg.API.Addr, cfg.API.Addr, cfg.API.Addr)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ingestd %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Database:\n")
			fmt.Printf("  URL:               %s\n", cfg.Database.URL)
			fmt.Printf("\nScheduler:\n")
			fmt.Printf("  Poll Interval:     %s\n", cfg.Scheduler.PollInterval)
			fmt.Printf("  Worker Concurrency: %d\n", cfg.Scheduler.WorkerConcurrency)
			fmt.Printf("\nScan:\n")
			fmt.Printf("  Max Pages/Run:     %d\n", cfg.Scan.MaxPagesPerRun)
			fmt.Printf("  Max Items/Run:     %d\n", cfg.Scan.MaxItemsPerRun)
			fmt.Printf("  Scan Timeout:      %s\n", cfg.Scan.ScanTimeout)
			fmt.Printf("\nCDN:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.CDN.Enabled)
			fmt.Printf("  Bucket:            %s\n", cfg.CDN.Bucket)
			fmt.Printf("\nArchive:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Archive.Enabled)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Addr:              %s\n", cfg.API.Addr)
			return nil
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
