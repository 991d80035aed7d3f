// Package backup implements the policy core of a single worker's backup
// run: measurement and field filtering, the incremental resume protocol,
// time-range pagination, and the read/transform/write pipeline that moves
// points from a source TSDB to a destination TSDB.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/config"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/retry"
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdbclient"
)

// State names a measurement's position in the per-measurement state
// machine. Manager never persists these; they exist purely to give log
// lines a vocabulary for what happened.
type State string

const (
	StateStart          State = "start"
	StateFieldResolved  State = "field_resolved"
	StateResumeResolved State = "resume_resolved"
	StatePaginating     State = "paginating"
	StateDone           State = "done"
	StateSkipped        State = "skipped"
	StateFailed         State = "failed"
)

// WorkerResult summarizes one complete run of a worker's configuration,
// across every database mapping and measurement it touched.
type WorkerResult struct {
	ConfigName        string
	Success           bool
	Start             time.Time
	End               time.Time
	DatabasesBackedUp int
	MeasurementsDone  int
	MeasurementsSkipped int
	RecordsWritten    int64
	Err               error
}

// Duration is how long the run took.
func (r WorkerResult) Duration() time.Duration { return r.End.Sub(r.Start) }

// Manager runs one worker's configuration to completion. It holds no
// state across runs; Run is safe to call repeatedly (e.g. once per cron
// tick in incremental/scheduled mode).
type Manager struct {
	name   string
	cfg    *config.WorkerConfig
	source tsdbclient.Client
	dest   tsdbclient.Client
	retry  *retry.Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds a Manager for one worker. source and dest may be the
// same underlying client when source and destination endpoints coincide;
// the manager never assumes otherwise.
func NewManager(name string, cfg *config.WorkerConfig, source, dest tsdbclient.Client, retryExec *retry.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:   name,
		cfg:    cfg,
		source: source,
		dest:   dest,
		retry:  retryExec,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes one full backup pass over every configured database
// mapping. A failing measurement or database is logged and the run moves
// on to the next unit of work. result.Err is set, and Success left false,
// for a malformed range configuration or when ctx is canceled before a
// database mapping starts. A measurement whose active-field-set lookup,
// page query or page write fails also sets result.Err (the last such
// error wins) while Success stays true; a failed resume-cursor lookup or
// a database-level failure is only logged.
func (m *Manager) Run(ctx context.Context) *WorkerResult {
	result := &WorkerResult{ConfigName: m.name, Start: m.now()}
	defer func() { result.End = m.now() }()

	var tStart, tEnd *time.Time
	if m.cfg.Options.BackupMode == "range" {
		start, end, err := parseRange(m.cfg.Options.Range)
		if err != nil {
			result.Err = fmt.Errorf("invalid range configuration: %w", err)
			return result
		}
		tStart, tEnd = &start, &end
	}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	for _, mapping := range m.cfg.Source.Databases {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}
		m.processDatabase(ctx, mapping, tStart, tEnd, result)
	}

	result.Success = true
	return result
}

func parseRange(r config.RangeOptions) (time.Time, time.Time, error) {
	start, err := parseISODate(r.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := parseISODate(r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date %s must be before end_date %s", r.StartDate, r.EndDate)
	}
	return start, end, nil
}

func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a recognized ISO date", s)
}

func (m *Manager) processDatabase(ctx context.Context, mapping config.DatabaseMapping, tStart, tEnd *time.Time, result *WorkerResult) {
	log := m.logger.With("source_db", mapping.Name, "dest_db", mapping.Destination)

	if err := m.retryOp(ctx, func() error { return m.dest.CreateDatabase(ctx, mapping.Destination) }); err != nil {
		log.Error("failed to ensure destination database exists, skipping database", "error", err)
		return
	}

	measurements, err := m.retryListMeasurements(ctx, mapping.Name)
	if err != nil {
		log.Error("failed to list source measurements, skipping database", "error", err)
		return
	}

	filtered := filterMeasurements(measurements, m.cfg.Measurements.Include, m.cfg.Measurements.Exclude)
	log.Info("backing up database", "measurements", len(filtered), "total_measurements", len(measurements))

	for _, measurement := range filtered {
		if err := ctx.Err(); err != nil {
			return
		}
		m.processMeasurement(ctx, mapping, measurement, tStart, tEnd, result)
	}

	result.DatabasesBackedUp++
}

func (m *Manager) processMeasurement(ctx context.Context, mapping config.DatabaseMapping, measurement string, tStart, tEnd *time.Time, result *WorkerResult) {
	log := m.logger.With("source_db", mapping.Name, "dest_db", mapping.Destination, "measurement", measurement)
	state := StateStart

	spec, _ := m.cfg.Measurements.MeasurementSpecificFor(measurement)

	fields, err := m.activeFieldSet(ctx, mapping.Name, mapping.Destination, measurement, spec, m.cfg.Options.FieldObsoleteThreshold)
	if err != nil {
		log.Error("failed to resolve active field set", "state", state, "error", err)
		result.Err = err
		return
	}
	if len(fields) == 0 {
		log.Info("no active fields after filtering, skipping measurement", "state", StateSkipped)
		result.MeasurementsSkipped++
		return
	}
	state = StateFieldResolved

	windowStart, windowEnd := tStart, tEnd
	if m.cfg.Options.BackupMode == "incremental" {
		resolvedStart, skip, err := m.resumeBounds(ctx, mapping.Name, mapping.Destination, measurement, fields, m.cfg.Options.Incremental.ObsoleteThreshold)
		if err != nil {
			log.Error("failed to resolve resume cursor", "state", state, "error", err)
			return
		}
		if skip {
			log.Info("measurement has no new data or is obsolete, skipping", "state", StateSkipped)
			result.MeasurementsSkipped++
			return
		}
		windowStart, windowEnd = resolvedStart, nil
	}
	state = StateResumeResolved

	pageWidth := time.Duration(m.cfg.Options.DaysOfPagination) * 24 * time.Hour
	windows := paginate(windowStart, windowEnd, pageWidth, m.now())
	state = StatePaginating

	var written int64
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return
		}

		queryString := tsdbclient.BuildSelectQuery(measurement, fields, w.Start, w.End, m.cfg.Source.GroupBy)

		var queryResult *tsdbclient.QueryResult
		err := m.retryOp(ctx, func() error {
			r, err := m.source.Query(ctx, mapping.Name, queryString)
			if err != nil {
				return err
			}
			queryResult = r
			return nil
		})
		if err != nil {
			log.Error("page query failed, aborting measurement", "state", StateFailed, "window_start", w.Start, "window_end", w.End, "error", err)
			result.Err = err
			return
		}

		points := toDataPoints(measurement, queryResult, fields)
		if len(points) == 0 {
			continue
		}

		err = m.retryOp(ctx, func() error { return m.dest.WritePoints(ctx, mapping.Destination, points) })
		if err != nil {
			log.Error("page write failed, aborting measurement", "state", StateFailed, "window_start", w.Start, "window_end", w.End, "error", err)
			result.Err = err
			return
		}

		written += int64(len(points))
	}

	log.Info("measurement backed up", "state", StateDone, "pages", len(windows), "records", written)
	result.MeasurementsDone++
	result.RecordsWritten += written
}

func (m *Manager) retryOp(ctx context.Context, op func() error) error {
	if m.retry == nil {
		return op()
	}
	return m.retry.Execute(ctx, op)
}

func (m *Manager) retryListMeasurements(ctx context.Context, db string) ([]string, error) {
	var measurements []string
	err := m.retryOp(ctx, func() error {
		ms, err := m.source.ListMeasurements(ctx, db)
		if err != nil {
			return err
		}
		measurements = ms
		return nil
	})
	return measurements, err
}
