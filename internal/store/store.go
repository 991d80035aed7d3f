// Package store is the orchestrator's run-history ledger: a small
// embedded SQLite database recording one row per worker run, so an
// operator (or a future /healthz-adjacent dashboard) can see recent
// backup outcomes without scraping logs.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunRecord is one completed worker run.
type RunRecord struct {
	ID                  string
	ConfigName          string
	StartedAt           time.Time
	FinishedAt          time.Time
	Success             bool
	DatabasesBackedUp   int
	MeasurementsDone    int
	MeasurementsSkipped int
	RecordsWritten      int64
	ErrorMessage        string
}

// Store wraps a SQLite connection holding the run-history ledger.
// Safe for concurrent use; SQLite serializes writers internally but a
// RWMutex keeps Close from racing with an in-flight query, matching
// the teacher's sqlite adapter.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.RWMutex
}

// Open opens (creating if necessary) the SQLite database at path and
// applies every pending goose migration embedded in this package.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	logger.Info("run-history store ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RecordRun inserts one completed run into the ledger.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
INSERT INTO runs (
    id, config_name, started_at, finished_at, success,
    databases_backed_up, measurements_done, measurements_skipped,
    records_written, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConfigName,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
		boolToInt(rec.Success),
		rec.DatabasesBackedUp,
		rec.MeasurementsDone,
		rec.MeasurementsSkipped,
		rec.RecordsWritten,
		nullableString(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for configName, newest first,
// bounded by limit.
func (s *Store) ListRuns(ctx context.Context, configName string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
SELECT id, config_name, started_at, finished_at, success,
       databases_backed_up, measurements_done, measurements_skipped,
       records_written, error_message
FROM runs
WHERE config_name = ?
ORDER BY started_at DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, query, configName, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastSuccessfulRun returns the most recent successful run for
// configName, or nil if there is none.
func (s *Store) LastSuccessfulRun(ctx context.Context, configName string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
SELECT id, config_name, started_at, finished_at, success,
       databases_backed_up, measurements_done, measurements_skipped,
       records_written, error_message
FROM runs
WHERE config_name = ? AND success = 1
ORDER BY started_at DESC
LIMIT 1
`
	row := s.db.QueryRowContext(ctx, query, configName)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching last successful run: %w", err)
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (RunRecord, error) {
	var (
		rec        RunRecord
		startedAt  int64
		finishedAt int64
		success    int
		errorMsg   sql.NullString
	)

	if err := r.Scan(
		&rec.ID, &rec.ConfigName, &startedAt, &finishedAt, &success,
		&rec.DatabasesBackedUp, &rec.MeasurementsDone, &rec.MeasurementsSkipped,
		&rec.RecordsWritten, &errorMsg,
	); err != nil {
		return RunRecord{}, err
	}

	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	rec.FinishedAt = time.UnixMilli(finishedAt).UTC()
	rec.Success = success == 1
	rec.ErrorMessage = errorMsg.String
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
