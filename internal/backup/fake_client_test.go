package backup

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdbclient"
)

var fakeQueryPattern = regexp.MustCompile(`^SELECT (.+) FROM "([^"]+)" WHERE time > '([^']+)' AND time <= '([^']+)'`)

// fakePoint is one stored point in a fakeClient database.
type fakePoint struct {
	tags   map[string]string
	time   time.Time
	fields map[string]tsdbclient.FieldValue
}

// fakeClient is an in-memory tsdbclient.Client used to exercise the backup
// manager's policy logic without a real TSDB. Each measurement holds an
// append-only, time-sorted slice of points plus a declared field type map.
type fakeClient struct {
	databases    map[string]bool
	fieldTypes   map[string]map[string]tsdbclient.FieldType // measurement -> field -> type
	points       map[string][]fakePoint                     // measurement -> points

	// writeErrors is a queue of errors WritePoints returns before
	// succeeding; used to simulate S6 (transient then success).
	writeErrors []error
	queryErrors []error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		databases:  map[string]bool{},
		fieldTypes: map[string]map[string]tsdbclient.FieldType{},
		points:     map[string][]fakePoint{},
	}
}

func (f *fakeClient) declareField(measurement, field string, t tsdbclient.FieldType) {
	if f.fieldTypes[measurement] == nil {
		f.fieldTypes[measurement] = map[string]tsdbclient.FieldType{}
	}
	f.fieldTypes[measurement][field] = t
}

func (f *fakeClient) seed(measurement string, tags map[string]string, ts time.Time, fields map[string]tsdbclient.FieldValue) {
	f.points[measurement] = append(f.points[measurement], fakePoint{tags: tags, time: ts, fields: fields})
	sort.Slice(f.points[measurement], func(i, j int) bool {
		return f.points[measurement][i].time.Before(f.points[measurement][j].time)
	})
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeClient) ListMeasurements(ctx context.Context, db string) ([]string, error) {
	var names []string
	for name := range f.points {
		names = append(names, name)
	}
	for name := range f.fieldTypes {
		if _, ok := f.points[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeClient) FieldKeys(ctx context.Context, db, measurement string) (map[string]tsdbclient.FieldType, error) {
	out := map[string]tsdbclient.FieldType{}
	for k, v := range f.fieldTypes[measurement] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeClient) FirstTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error) {
	return f.boundTimestamp(measurement, fields, true)
}

func (f *fakeClient) LastTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error) {
	return f.boundTimestamp(measurement, fields, false)
}

func (f *fakeClient) boundTimestamp(measurement string, fields []string, earliest bool) (*time.Time, error) {
	wanted := toSet(fields)
	var best *time.Time
	for _, p := range f.points[measurement] {
		if len(wanted) > 0 && !hasAnyField(p.fields, wanted) {
			continue
		}
		t := p.time
		if best == nil || (earliest && t.Before(*best)) || (!earliest && t.After(*best)) {
			tc := t
			best = &tc
		}
	}
	return best, nil
}

func hasAnyField(fields map[string]tsdbclient.FieldValue, wanted map[string]bool) bool {
	for k := range fields {
		if wanted[k] {
			return true
		}
	}
	return false
}

func (f *fakeClient) Query(ctx context.Context, db, queryString string) (*tsdbclient.QueryResult, error) {
	if len(f.queryErrors) > 0 {
		err := f.queryErrors[0]
		f.queryErrors = f.queryErrors[1:]
		return nil, err
	}

	match := fakeQueryPattern.FindStringSubmatch(queryString)
	if match == nil {
		return &tsdbclient.QueryResult{}, nil
	}
	measurement := match[2]
	start, err := time.Parse("2006-01-02T15:04:05.999999Z", match[3])
	if err != nil {
		return nil, err
	}
	end, err := time.Parse("2006-01-02T15:04:05.999999Z", match[4])
	if err != nil {
		return nil, err
	}

	var rows []tsdbclient.Row
	for _, p := range f.points[measurement] {
		if !p.time.After(start) || p.time.After(end) {
			continue
		}
		values := make(map[string]any, len(p.fields))
		for k, v := range p.fields {
			values[k] = v.Any()
		}
		rows = append(rows, tsdbclient.Row{Time: p.time, Values: values})
	}
	if len(rows) == 0 {
		return &tsdbclient.QueryResult{}, nil
	}

	return &tsdbclient.QueryResult{Series: []tsdbclient.Series{{Name: measurement, Tags: map[string]string{}, Rows: rows}}}, nil
}

func (f *fakeClient) WritePoints(ctx context.Context, db string, points []tsdbclient.DataPoint) error {
	if len(f.writeErrors) > 0 {
		err := f.writeErrors[0]
		f.writeErrors = f.writeErrors[1:]
		return err
	}
	for _, p := range points {
		values := make(map[string]tsdbclient.FieldValue, len(p.Fields))
		for k, v := range p.Fields {
			values[k] = v
		}
		f.seed(p.Measurement, p.Tags, p.Time, values)
	}
	return nil
}

func (f *fakeClient) CreateDatabase(ctx context.Context, db string) error {
	f.databases[db] = true
	return nil
}

var _ tsdbclient.Client = (*fakeClient)(nil)
