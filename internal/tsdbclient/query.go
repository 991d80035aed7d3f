package tsdbclient

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const influxTimeFormat = "2006-01-02T15:04:05.999999Z"

// FormatTime renders t as the RFC3339-UTC-with-microseconds string the TSDB
// wire protocol expects in a WHERE time clause.
func FormatTime(t time.Time) string {
	return t.UTC().Format(influxTimeFormat)
}

// BuildSelectQuery constructs the InfluxQL for one backup page: the field
// list is explicit (never `SELECT *`) so the wire response cannot surface
// columns outside the active field set, and the window is the half-open
// interval `(start, end]` the pagination scheme always produces.
func BuildSelectQuery(measurement string, fields []string, start, end time.Time, groupByInterval string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, f := range sorted {
		quoted[i] = fmt.Sprintf("%q", f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %q", strings.Join(quoted, ","), measurement)
	fmt.Fprintf(&b, " WHERE time > '%s' AND time <= '%s'", FormatTime(start), FormatTime(end))

	if groupByInterval != "" {
		fmt.Fprintf(&b, " GROUP BY *,time(%s)", groupByInterval)
	} else {
		b.WriteString(" GROUP BY *")
	}

	return b.String()
}

// BuildAggregateSelectQuery is BuildSelectQuery's aggregation variant,
// wrapping each field in fn (FIRST or LAST) for timestamp-lookup queries
// that must consider only a given subset of fields.
func BuildAggregateSelectQuery(fn, measurement string, fields []string, extraWhere string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	exprs := make([]string, len(sorted))
	for i, f := range sorted {
		exprs[i] = fmt.Sprintf("%s(%q)", fn, f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %q", strings.Join(exprs, ","), measurement)
	if extraWhere != "" {
		fmt.Fprintf(&b, " WHERE %s", extraWhere)
	}
	return b.String()
}

// BuildUnboundedTimestampQuery builds the `ORDER BY time ASC/LIMIT 1` style
// query used when no field subset is given for a first/last lookup.
func BuildUnboundedTimestampQuery(measurement string, ascending bool) string {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	return fmt.Sprintf("SELECT * FROM %q ORDER BY time %s LIMIT 1", measurement, order)
}
