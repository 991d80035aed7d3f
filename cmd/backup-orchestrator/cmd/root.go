package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/httpapi"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/lock"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/metrics"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/orchestrator"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/store"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/pkg/logger"
)

var (
	version   string
	buildTime string
	gitCommit string
)

var (
	configDir    string
	verbose      bool
	validateOnly bool
	metricsAddr  string
	storePath    string
	redisAddr    string
	logDir       string
)

// rootCmd is the orchestrator's single entrypoint: discover every
// worker configuration under --config and run each to completion
// or on its configured schedule, until interrupted.
var rootCmd = &cobra.Command{
	Use:   "backup-orchestrator",
	Short: "Backs up time-series databases incrementally or over a fixed range",
	Long: `backup-orchestrator copies measurements between TSDB HTTP endpoints.

Each file under --config describes one worker: a source database,
a destination, and either a fixed time range or an incremental mode
with a cron schedule. Workers run concurrently, one goroutine each;
a failing or panicking worker never affects its siblings.

Examples:
  # Run every configured worker once (or start their schedules) until Ctrl-C
  backup-orchestrator --config ./configs

  # Check that every configuration file parses and validates, then exit
  backup-orchestrator --config ./configs --validate-only

  # Export Prometheus metrics and a run-history ledger
  backup-orchestrator --config ./configs --metrics-addr :9090 --store-path ./data/runs.db
`,
	RunE: runOrchestrator,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config", "/config", "directory containing worker configuration files")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate every configuration file and exit without running")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the /healthz and /metrics HTTP endpoints")
	rootCmd.Flags().StringVar(&storePath, "store-path", "", "path to the run-history sqlite database (disabled if empty)")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address for distributed run locking (disabled if empty)")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "logs", "base directory for per-worker rotated log files, one subdirectory per config")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version information printed by the version command.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	log := logger.NewLogger(logger.Config{Level: level, Format: "json", Output: "stdout"})

	opts := []orchestrator.Option{
		orchestrator.WithLogDir(logDir),
		orchestrator.WithLogLevel(level),
	}

	reg := prometheus.NewRegistry()
	metricsSet := metrics.New(reg)
	opts = append(opts, orchestrator.WithMetrics(metricsSet))

	var redisClient *redis.Client
	if redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		lockManager := lock.NewLockManager(redisClient, nil, log)
		opts = append(opts, orchestrator.WithLockManager(lockManager))
		defer func() {
			_ = lockManager.ReleaseAll(context.Background())
			_ = redisClient.Close()
		}()
	}

	if validateOnly {
		o := orchestrator.New(configDir, log, opts...)
		if err := o.ValidateOnly(); err != nil {
			return err
		}
		fmt.Println("all configurations valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if storePath != "" {
		runStore, err := store.Open(ctx, storePath, log)
		if err != nil {
			return fmt.Errorf("opening run-history store: %w", err)
		}
		defer runStore.Close()
		opts = append(opts, orchestrator.WithStore(runStore))
	}

	o := orchestrator.New(configDir, log, opts...)

	ready := func(ctx context.Context) error {
		if redisClient == nil {
			return nil
		}
		return redisClient.Ping(ctx).Err()
	}

	apiServer := httpapi.New(metricsAddr, reg, ready, log)
	go func() {
		if err := apiServer.Run(ctx); err != nil {
			log.Error("http api server failed", "error", err)
		}
	}()

	code, summary := o.Run(ctx)
	log.Info("orchestrator run complete",
		"exit_code", code,
		"succeeded", summary.WorkersSucceeded,
		"failed", summary.WorkersFailed,
		"skipped", summary.WorkersSkipped,
		"databases", summary.Databases,
		"measurements", summary.Measurements,
		"records", summary.Records,
	)

	os.Exit(code)
	return nil
}
