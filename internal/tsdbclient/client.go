package tsdbclient

import (
	"context"
	"time"
)

// Client represents one TSDB endpoint. Implementations perform pure I/O;
// all backup policy (filtering, resume, pagination) lives in the backup
// manager, not here.
type Client interface {
	// Ping fails with a tsdberr.Unreachable error when the transport
	// round-trip fails. It succeeds silently otherwise.
	Ping(ctx context.Context) error

	// ListDatabases returns database names in the order the TSDB reports
	// them, excluding the TSDB's own system databases.
	ListDatabases(ctx context.Context) ([]string, error)

	// ListMeasurements returns measurement names for db.
	ListMeasurements(ctx context.Context, db string) ([]string, error)

	// FieldKeys returns every field's declared type for measurement m in db.
	FieldKeys(ctx context.Context, db, measurement string) (map[string]FieldType, error)

	// FirstTimestamp and LastTimestamp return the earliest/latest time at
	// which any of fields has a non-null value, or nil if there is no such
	// point. When fields is empty, any column is considered.
	FirstTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error)
	LastTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error)

	// Query executes an arbitrary InfluxQL query string against db.
	Query(ctx context.Context, db, queryString string) (*QueryResult, error)

	// WritePoints batch-inserts points into db. An empty slice is a no-op.
	WritePoints(ctx context.Context, db string, points []DataPoint) error

	// CreateDatabase creates db if it does not already exist.
	CreateDatabase(ctx context.Context, db string) error
}
