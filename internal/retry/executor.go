// Package retry implements the fixed-delay, budget-limited retry policy
// the backup manager wraps around its database creation, measurement
// listing, page query and page write calls; field-key and timestamp
// lookups are not routed through it. Attempts are strictly
// sequential, and only errors classified as retryable by internal/tsdberr
// are retried.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdberr"
)

// Config bounds how many times Execute retries a failed operation and how
// long it waits between attempts.
type Config struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultConfig matches options.retries/options.retry_delay's documented
// defaults (3 retries, 5 second delay).
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Delay: 5 * time.Second}
}

// Executor runs operations with the configured retry policy. At most one
// attempt is ever outstanding: Execute returns when an attempt succeeds,
// fails with a non-retryable error, or exhausts the budget, or when ctx is
// canceled while it waits between attempts.
type Executor struct {
	config Config
	logger *slog.Logger
}

// NewExecutor creates an Executor bound to config.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{config: config, logger: logger}
}

// Execute invokes operation. If it fails with a retryable error (per
// tsdberr.IsRetryable) and the retry budget is not exhausted, it waits
// Config.Delay and tries again; any other failure, or exhaustion of the
// budget, propagates the last error unmodified.
func (e *Executor) Execute(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				e.logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}

		lastErr = err

		if attempt == e.config.MaxRetries || !tsdberr.IsRetryable(err) {
			break
		}

		e.logger.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", e.config.MaxRetries,
			"delay", e.config.Delay,
			"error", err,
		)

		select {
		case <-time.After(e.config.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.logger.Error("operation failed after all retries", "max_retries", e.config.MaxRetries, "error", lastErr)
	return lastErr
}
