// Package metrics exposes the orchestrator's Prometheus metrics: per-worker
// run outcomes and durations, database/measurement/record throughput, and
// retry counts. It holds no backup-domain types of its own so it never
// needs to import internal/backup; callers pass plain values extracted
// from a WorkerResult.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is the Prometheus namespace every metric in this
// package is registered under: "tsdb_backup_<subsystem>_<name>".
const DefaultNamespace = "tsdb_backup"

// Metrics is the orchestrator's Prometheus metric set. All fields are
// safe for concurrent use, the same guarantee the underlying
// client_golang collectors provide.
type Metrics struct {
	WorkerRunsTotal          *prometheus.CounterVec
	WorkerRunDurationSeconds *prometheus.HistogramVec
	DatabasesBackedUpTotal   *prometheus.CounterVec
	MeasurementsTotal        *prometheus.CounterVec
	RecordsWrittenTotal      *prometheus.CounterVec
	RetriesTotal             *prometheus.CounterVec
	SchedulerRunsTotal       *prometheus.CounterVec
	WorkersRunning           prometheus.Gauge
}

// New registers every metric against reg and returns the resulting set.
// Passing a fresh prometheus.NewRegistry() (rather than the global
// default registry) is how tests avoid duplicate-registration panics
// across test runs; the CLI also passes a fresh registry in production and
// hands the same registry to the HTTP API as its /metrics gatherer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkerRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Total worker runs by configuration and outcome.",
		}, []string{"config", "result"}), // result: success|failure

		WorkerRunDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete worker run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. 2048s (~34m)
		}, []string{"config"}),

		DatabasesBackedUpTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "databases_backed_up_total",
			Help:      "Total source databases successfully backed up.",
		}, []string{"config"}),

		MeasurementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "measurements_total",
			Help:      "Total measurements processed, by outcome.",
		}, []string{"config", "result"}), // result: done|skipped

		RecordsWrittenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "records_written_total",
			Help:      "Total points written to a destination database.",
		}, []string{"config"}),

		// RetriesTotal is registered and exported, but internal/retry has no
		// metrics hook and nothing in this module increments it.
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total retry attempts made by the retry executor, by configuration and classification.",
		}, []string{"config", "retryable"}),

		SchedulerRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Total cron triggers fired, by configuration.",
		}, []string{"config"}),

		WorkersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultNamespace,
			Subsystem: "worker",
			Name:      "running",
			Help:      "Number of workers currently executing a backup run.",
		}),
	}
}

// RecordRun updates every per-run metric for one completed worker.
func (m *Metrics) RecordRun(configName string, success bool, durationSeconds float64, databases, measurementsDone, measurementsSkipped int, recordsWritten int64) {
	result := "success"
	if !success {
		result = "failure"
	}

	m.WorkerRunsTotal.WithLabelValues(configName, result).Inc()
	m.WorkerRunDurationSeconds.WithLabelValues(configName).Observe(durationSeconds)
	m.DatabasesBackedUpTotal.WithLabelValues(configName).Add(float64(databases))
	m.MeasurementsTotal.WithLabelValues(configName, "done").Add(float64(measurementsDone))
	m.MeasurementsTotal.WithLabelValues(configName, "skipped").Add(float64(measurementsSkipped))
	m.RecordsWrittenTotal.WithLabelValues(configName).Add(float64(recordsWritten))
}

// RecordSchedulerTrigger increments the cron-trigger counter for configName.
func (m *Metrics) RecordSchedulerTrigger(configName string) {
	m.SchedulerRunsTotal.WithLabelValues(configName).Inc()
}
