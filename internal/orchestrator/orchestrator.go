// Package orchestrator discovers worker configuration files, runs each one
// to completion in an isolated goroutine, and aggregates their results
// into one process-level exit code. It owns process lifecycle
// (discovery, concurrency, cancellation) and treats each worker as
// opaque: worker-internal retries are the retry executor's job, and a
// worker that fails or panics never affects its siblings.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/backup"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/config"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/lock"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/metrics"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/retry"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/scheduler"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/store"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdbclient"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/pkg/logger"
)

// Exit codes per the CLI surface contract.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// ClientFactory builds a tsdbclient.Client for one endpoint. Exposed so
// tests can substitute an in-memory client instead of dialing real HTTP
// endpoints.
type ClientFactory func(ctx context.Context, cfg tsdbclient.Config, logger *slog.Logger) (tsdbclient.Client, error)

// Outcome is one worker's terminal state, whether it ran to completion or
// never started.
type Outcome struct {
	ConfigName string
	RunID      string
	Result     *backup.WorkerResult
	InitErr    error
}

// Summary aggregates every worker's outcome for the final report.
type Summary struct {
	WorkersSucceeded int
	WorkersFailed    int
	WorkersSkipped   int
	Databases        int
	Measurements     int
	Records          int64
	Interrupted      bool
}

// Orchestrator runs every worker configuration found in a directory.
type Orchestrator struct {
	configDir     string
	logger        *slog.Logger
	lockManager   *lock.LockManager
	newClient     ClientFactory
	retryConfig   retry.Config
	clientTimeout time.Duration
	metrics       *metrics.Metrics
	store         *store.Store
	logDir        string
	logLevel      string
}

// Option customizes an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLockManager enables concurrent-run prevention: a worker whose
// configuration name is already locked by another orchestrator process is
// skipped rather than run.
func WithLockManager(lm *lock.LockManager) Option {
	return func(o *Orchestrator) { o.lockManager = lm }
}

// WithClientFactory overrides how TSDB clients are constructed, for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(o *Orchestrator) { o.newClient = f }
}

// WithMetrics attaches a metrics.Metrics set that every worker run and
// scheduler trigger is recorded against. Without it, New records into a
// private registry that nothing exports.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStore attaches a run-history ledger: every worker outcome is
// persisted as one row after it completes. Without it, history is not
// recorded anywhere but the logs.
func WithStore(s *store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogDir sets the base directory under which each worker gets its own
// subdirectory, named by its config stem, holding its rotated log file.
func WithLogDir(dir string) Option {
	return func(o *Orchestrator) { o.logDir = dir }
}

// WithLogLevel sets the level (debug, info, warn, error) used for every
// worker's file and console log sinks.
func WithLogLevel(level string) Option {
	return func(o *Orchestrator) { o.logLevel = level }
}

// New builds an Orchestrator that discovers configs under configDir.
func New(configDir string, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		configDir: configDir,
		logger:    log.With("component", "orchestrator"),
		newClient: defaultClientFactory,
		metrics:   metrics.New(prometheus.NewRegistry()),
		logDir:    "logs",
		logLevel:  "info",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func defaultClientFactory(ctx context.Context, cfg tsdbclient.Config, log *slog.Logger) (tsdbclient.Client, error) {
	return tsdbclient.NewClient(ctx, cfg, log)
}

// ValidateOnly loads (but does not run) every discovered configuration,
// returning an error describing the first invalid one. It backs the
// --validate-only CLI flag.
func (o *Orchestrator) ValidateOnly() error {
	paths, err := config.Discover(o.configDir)
	if err != nil {
		return fmt.Errorf("discovering configs in %s: %w", o.configDir, err)
	}
	for _, path := range paths {
		if _, err := config.Load(path); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	o.logger.Info("all configurations valid", "count", len(paths))
	return nil
}

// Run discovers every worker configuration, runs each to completion (or
// until ctx is canceled) in its own goroutine, and returns the process
// exit code along with the aggregate summary.
func (o *Orchestrator) Run(ctx context.Context) (int, Summary) {
	paths, err := config.Discover(o.configDir)
	if err != nil {
		o.logger.Error("failed to discover configuration directory", "dir", o.configDir, "error", err)
		return ExitFailure, Summary{}
	}

	o.logger.Info("discovered worker configurations", "dir", o.configDir, "count", len(paths))

	outcomes := make(chan Outcome, len(paths))
	var wg sync.WaitGroup

	for _, path := range paths {
		cfg, err := config.Load(path)
		if err != nil {
			o.logger.Error("invalid configuration, skipping", "path", path, "error", err)
			outcomes <- Outcome{ConfigName: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), InitErr: err}
			continue
		}

		wg.Add(1)
		go o.runWorker(ctx, cfg, &wg, outcomes)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	summary := Summary{}
	for outcome := range outcomes {
		o.recordOutcome(outcome, &summary)
	}

	if ctx.Err() != nil {
		summary.Interrupted = true
		return ExitInterrupted, summary
	}
	if summary.WorkersFailed > 0 {
		return ExitFailure, summary
	}
	return ExitSuccess, summary
}

func (o *Orchestrator) recordOutcome(outcome Outcome, summary *Summary) {
	log := o.logger.With("config", outcome.ConfigName, "run_id", outcome.RunID)

	switch {
	case outcome.InitErr != nil:
		log.Error("worker failed to start", "error", outcome.InitErr)
		summary.WorkersFailed++
	case outcome.Result == nil:
		log.Info("worker skipped")
		summary.WorkersSkipped++
	case outcome.Result.Err != nil:
		log.Error("worker finished with an error", "error", outcome.Result.Err, "duration", outcome.Result.Duration())
		summary.WorkersFailed++
	default:
		log.Info("worker finished successfully",
			"duration", outcome.Result.Duration(),
			"databases", outcome.Result.DatabasesBackedUp,
			"measurements", outcome.Result.MeasurementsDone,
			"records", outcome.Result.RecordsWritten,
		)
		summary.WorkersSucceeded++
	}

	if outcome.Result != nil {
		summary.Databases += outcome.Result.DatabasesBackedUp
		summary.Measurements += outcome.Result.MeasurementsDone
		summary.Records += outcome.Result.RecordsWritten

		o.metrics.RecordRun(
			outcome.ConfigName,
			outcome.Result.Err == nil,
			outcome.Result.Duration().Seconds(),
			outcome.Result.DatabasesBackedUp,
			outcome.Result.MeasurementsDone,
			outcome.Result.MeasurementsSkipped,
			outcome.Result.RecordsWritten,
		)

		o.persistOutcome(outcome, log)
	}
}

func (o *Orchestrator) persistOutcome(outcome Outcome, log *slog.Logger) {
	if o.store == nil {
		return
	}

	errMsg := ""
	if outcome.Result.Err != nil {
		errMsg = outcome.Result.Err.Error()
	}

	rec := store.RunRecord{
		ID:                  outcome.RunID,
		ConfigName:          outcome.ConfigName,
		StartedAt:           outcome.Result.Start,
		FinishedAt:          outcome.Result.End,
		Success:             outcome.Result.Err == nil,
		DatabasesBackedUp:   outcome.Result.DatabasesBackedUp,
		MeasurementsDone:    outcome.Result.MeasurementsDone,
		MeasurementsSkipped: outcome.Result.MeasurementsSkipped,
		RecordsWritten:      outcome.Result.RecordsWritten,
		ErrorMessage:        errMsg,
	}

	if err := o.store.RecordRun(context.Background(), rec); err != nil {
		log.Warn("failed to persist run history", "error", err)
	}
}

func (o *Orchestrator) runWorker(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup, outcomes chan<- Outcome) {
	defer wg.Done()

	runID := uuid.NewString()
	workerLogger := logger.ForWorker(logger.NewWorkerLogger(o.logLevel, o.logDir, cfg.Name), cfg.Name, runID)
	if url := cfg.Worker.Options.LogAggregatorURL; url != "" {
		aggregated, closeAggregator := logger.WithAggregator(workerLogger, url)
		workerLogger = aggregated
		defer closeAggregator()
	}

	o.metrics.WorkersRunning.Inc()
	defer o.metrics.WorkersRunning.Dec()

	defer func() {
		if r := recover(); r != nil {
			workerLogger.Error("worker panicked", "panic", r)
			outcomes <- Outcome{ConfigName: cfg.Name, RunID: runID, InitErr: fmt.Errorf("panic: %v", r)}
		}
	}()

	if o.lockManager != nil {
		lockKey := "config:" + cfg.Name
		if _, err := o.lockManager.AcquireLock(ctx, lockKey); err != nil {
			workerLogger.Info("another process is already running this configuration, skipping", "error", err)
			outcomes <- Outcome{ConfigName: cfg.Name, RunID: runID}
			return
		}
		defer func() {
			if err := o.lockManager.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
				workerLogger.Warn("failed to release lock", "error", err)
			}
		}()
	}

	result, err := o.runBackup(ctx, cfg, workerLogger)
	if err != nil {
		outcomes <- Outcome{ConfigName: cfg.Name, RunID: runID, InitErr: err}
		return
	}

	outcomes <- Outcome{ConfigName: cfg.Name, RunID: runID, Result: result}
}

func (o *Orchestrator) runBackup(ctx context.Context, cfg *config.Config, workerLogger *slog.Logger) (*backup.WorkerResult, error) {
	timeout := time.Duration(cfg.Worker.Options.TimeoutClient) * time.Second

	sourceClient, err := o.newClient(ctx, tsdbclient.Config{
		URL:      cfg.Worker.Source.URL,
		Username: cfg.Worker.Source.Username,
		Password: cfg.Worker.Source.Password,
		Timeout:  timeout,
	}, workerLogger.With("endpoint", "source"))
	if err != nil {
		return nil, fmt.Errorf("connecting to source: %w", err)
	}

	destClient, err := o.newClient(ctx, tsdbclient.Config{
		URL:      cfg.Worker.Destination.URL,
		Username: cfg.Worker.Destination.Username,
		Password: cfg.Worker.Destination.Password,
		Timeout:  timeout,
	}, workerLogger.With("endpoint", "destination"))
	if err != nil {
		return nil, fmt.Errorf("connecting to destination: %w", err)
	}

	retryConfig := retry.Config{
		MaxRetries: cfg.Worker.Options.Retries,
		Delay:      time.Duration(cfg.Worker.Options.RetryDelay) * time.Second,
	}
	retryExec := retry.NewExecutor(retryConfig, workerLogger)

	manager := backup.NewManager(cfg.Name, &cfg.Worker, sourceClient, destClient, retryExec, workerLogger)

	var result *backup.WorkerResult
	runFunc := func(ctx context.Context) error {
		o.metrics.RecordSchedulerTrigger(cfg.Name)
		result = manager.Run(ctx)
		return result.Err
	}

	schedule := cfg.Worker.Options.Incremental.Schedule
	if cfg.Worker.Options.BackupMode == "incremental" && schedule != "" {
		scheduler.New(runFunc, schedule, workerLogger).Start(ctx)
	} else {
		scheduler.RunOnce(ctx, runFunc, workerLogger)
	}

	return result, nil
}
