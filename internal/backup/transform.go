package backup

import (
	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdbclient"
)

// toDataPoints flattens a query result into line-protocol-ready points,
// restricted to fields and dropping any point left with no fields after
// that restriction (a point with an empty field set is not a valid write).
func toDataPoints(measurement string, result *tsdbclient.QueryResult, fields []string) []tsdbclient.DataPoint {
	wanted := toSet(fields)

	var points []tsdbclient.DataPoint
	for _, series := range result.Series {
		for _, row := range series.Rows {
			values := make(map[string]tsdbclient.FieldValue, len(wanted))
			for col, raw := range row.Values {
				if !wanted[col] {
					continue
				}
				fv, ok := tsdbclient.FieldValueFromAny(raw)
				if !ok {
					continue
				}
				values[col] = fv
			}
			if len(values) == 0 {
				continue
			}
			points = append(points, tsdbclient.DataPoint{
				Measurement: measurement,
				Tags:        series.Tags,
				Time:        row.Time,
				Fields:      values,
			})
		}
	}
	return points
}
