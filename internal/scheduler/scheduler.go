// Package scheduler runs a worker's backup function either once or on a
// recurring cron trigger. It owns no retry or backup policy of its own;
// job_function failures are logged and swallowed so a single bad run never
// crashes the process hosting the scheduler.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one scheduled unit of work. It receives the context the
// scheduler was started or run with, so it can observe cancellation.
type JobFunc func(ctx context.Context) error

// RunOnce invokes job exactly once, recovering from a panic and converting
// both panics and returned errors into a single logged critical failure.
// It never returns an error itself: a caller running in one-shot mode
// treats "the job ran, however it turned out" as the terminal state.
func RunOnce(ctx context.Context, job JobFunc, logger *slog.Logger) {
	logger = orDefault(logger)
	logger.Info("running backup job once")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("backup job panicked", "panic", r)
		}
	}()

	if err := job(ctx); err != nil {
		logger.Error("backup job failed", "error", err)
	}
}

// Scheduler runs a job on a cron trigger, in UTC, blocking the calling
// goroutine until ctx is canceled.
type Scheduler struct {
	cronExpr string
	job      JobFunc
	logger   *slog.Logger
}

// New builds a Scheduler for job on cronExpr. cronExpr uses the standard
// five-field crontab syntax (minute hour day-of-month month day-of-week).
func New(job JobFunc, cronExpr string, logger *slog.Logger) *Scheduler {
	return &Scheduler{cronExpr: cronExpr, job: job, logger: orDefault(logger)}
}

// Start registers the job on the configured cron trigger and blocks until
// ctx is canceled. An empty or invalid cron expression is logged and Start
// returns immediately without blocking, matching the "log and return
// without starting" contract for a misconfigured schedule.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cronExpr == "" {
		s.logger.Error("no cron expression configured for scheduler")
		return
	}

	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(s.cronExpr, func() {
		RunOnce(ctx, s.job, s.logger)
	})
	if err != nil {
		s.logger.Error("invalid cron expression, scheduler not started", "cron", s.cronExpr, "error", err)
		return
	}

	s.logger.Info("scheduler starting", "cron", s.cronExpr)
	c.Start()

	<-ctx.Done()
	s.logger.Info("scheduler stopping")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
