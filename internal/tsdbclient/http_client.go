package tsdbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdberr"
)

// Config configures an HTTPClient endpoint.
type Config struct {
	URL      string
	Username string
	Password string

	// Timeout bounds every individual HTTP round-trip, per
	// options.timeout_client.
	Timeout time.Duration

	// RateLimit bounds requests per second issued to this endpoint; zero
	// disables rate limiting.
	RateLimit float64
	RateBurst int

	// FieldKeysCacheSize bounds the number of measurements whose field
	// keys are cached for the lifetime of this client. Zero uses a
	// reasonable default.
	FieldKeysCacheSize int
}

// HTTPClient implements Client against a TSDB's InfluxQL-compatible HTTP
// query surface (`/query`, `/write`).
type HTTPClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *fieldKeysCache
	logger     *slog.Logger
}

// NewClient constructs an HTTPClient and immediately probes the endpoint
// with Ping, returning an error right away for a misconfigured URL instead
// of deferring discovery to the first real backup operation.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cache:      newFieldKeysCache(cfg.FieldKeysCacheSize),
		logger:     logger,
	}

	if err := c.Ping(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, tsdberr.Unreachable(path, err)
	}

	target := c.baseURL + path
	if query != nil {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, tsdberr.Unreachable(path, err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, tsdberr.Unreachable(path, err)
	}
	return resp, nil
}

// Ping issues a lightweight query to verify the endpoint is reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/ping", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return tsdberr.Unreachable("ping", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return tsdberr.AuthFailed("ping", fmt.Errorf("unauthorized"))
	}
	return nil
}

type queryResponse struct {
	Results []struct {
		Series []struct {
			Name    string              `json:"name"`
			Tags    map[string]string   `json:"tags"`
			Columns []string            `json:"columns"`
			Values  [][]any             `json:"values"`
		} `json:"series"`
		Error string `json:"error"`
	} `json:"results"`
	Error string `json:"error"`
}

func (c *HTTPClient) rawQuery(ctx context.Context, db, q string) (*queryResponse, error) {
	values := url.Values{"q": {q}}
	if db != "" {
		values.Set("db", db)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/query", values, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tsdberr.Unreachable("query", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, tsdberr.AuthFailed("query", fmt.Errorf("unauthorized"))
	}
	if resp.StatusCode >= 500 {
		return nil, tsdberr.Unreachable("query", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, tsdberr.QueryError("query", fmt.Errorf("decoding response: %w", err))
	}

	if parsed.Error != "" {
		return nil, tsdberr.QueryError("query", fmt.Errorf("%s", parsed.Error))
	}
	for _, r := range parsed.Results {
		if r.Error != "" {
			return nil, tsdberr.QueryError("query", fmt.Errorf("%s", r.Error))
		}
	}

	return &parsed, nil
}

// ListDatabases returns the databases known to the endpoint, excluding the
// TSDB's own internal bookkeeping database.
func (c *HTTPClient) ListDatabases(ctx context.Context) ([]string, error) {
	parsed, err := c.rawQuery(ctx, "", "SHOW DATABASES")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, result := range parsed.Results {
		for _, series := range result.Series {
			for _, row := range series.Values {
				if len(row) == 0 {
					continue
				}
				name, _ := row[0].(string)
				if name == "" || name == "_internal" {
					continue
				}
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ListMeasurements returns the measurement names present in db.
func (c *HTTPClient) ListMeasurements(ctx context.Context, db string) ([]string, error) {
	parsed, err := c.rawQuery(ctx, db, "SHOW MEASUREMENTS")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, result := range parsed.Results {
		for _, series := range result.Series {
			for _, row := range series.Values {
				if len(row) == 0 {
					continue
				}
				if name, _ := row[0].(string); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names, nil
}

// FieldKeys returns the declared type of every field in measurement,
// caching the result for the lifetime of this client.
func (c *HTTPClient) FieldKeys(ctx context.Context, db, measurement string) (map[string]FieldType, error) {
	if cached, ok := c.cache.get(db, measurement); ok {
		return cached, nil
	}

	parsed, err := c.rawQuery(ctx, db, fmt.Sprintf("SHOW FIELD KEYS FROM %q", measurement))
	if err != nil {
		return nil, err
	}

	keys := make(map[string]FieldType)
	for _, result := range parsed.Results {
		for _, series := range result.Series {
			nameIdx, typeIdx := -1, -1
			for i, col := range series.Columns {
				switch col {
				case "fieldKey":
					nameIdx = i
				case "fieldType":
					typeIdx = i
				}
			}
			if nameIdx < 0 || typeIdx < 0 {
				continue
			}
			for _, row := range series.Values {
				name, _ := row[nameIdx].(string)
				declared, _ := row[typeIdx].(string)
				if name == "" {
					continue
				}
				keys[name] = FieldType(declared)
			}
		}
	}

	c.cache.put(db, measurement, keys)
	return keys, nil
}

func extractTimestampValue(colIdx int, row []any) (time.Time, bool) {
	if colIdx < 0 || colIdx >= len(row) {
		return time.Time{}, false
	}
	s, ok := row[colIdx].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c *HTTPClient) lookupTimestamp(ctx context.Context, db, measurement string, fields []string, fn string) (*time.Time, error) {
	var q string
	if len(fields) == 0 {
		q = BuildUnboundedTimestampQuery(measurement, fn == "FIRST")
	} else {
		q = BuildAggregateSelectQuery(fn, measurement, fields, "")
	}

	parsed, err := c.rawQuery(ctx, db, q)
	if err != nil {
		return nil, err
	}

	for _, result := range parsed.Results {
		for _, series := range result.Series {
			if len(series.Values) == 0 {
				continue
			}

			timeIdx := -1
			hasAggregate := false
			for i, col := range series.Columns {
				if col == "time" {
					timeIdx = i
					continue
				}
				if strings.HasPrefix(strings.ToLower(col), "first") || strings.HasPrefix(strings.ToLower(col), "last") {
					hasAggregate = true
				}
			}

			if len(fields) > 0 && !hasAggregate {
				// No column in the aggregate response starts with
				// first_/last_: the aggregation produced no data.
				continue
			}

			row := series.Values[0]
			if t, ok := extractTimestampValue(timeIdx, row); ok {
				return &t, nil
			}
		}
	}

	return nil, nil
}

// FirstTimestamp returns the earliest time any of fields has a non-null
// value, or nil if there is none.
func (c *HTTPClient) FirstTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error) {
	return c.lookupTimestamp(ctx, db, measurement, fields, "FIRST")
}

// LastTimestamp returns the latest time any of fields has a non-null value,
// or nil if there is none.
func (c *HTTPClient) LastTimestamp(ctx context.Context, db, measurement string, fields []string) (*time.Time, error) {
	return c.lookupTimestamp(ctx, db, measurement, fields, "LAST")
}

// Query executes an arbitrary InfluxQL statement, preserving the
// `(series_name, tag_map) -> ordered_rows` shape of the response.
func (c *HTTPClient) Query(ctx context.Context, db, queryString string) (*QueryResult, error) {
	parsed, err := c.rawQuery(ctx, db, queryString)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{}
	for _, r := range parsed.Results {
		for _, s := range r.Series {
			timeIdx := -1
			for i, col := range s.Columns {
				if col == "time" {
					timeIdx = i
					break
				}
			}

			series := Series{Name: s.Name, Tags: s.Tags}
			for _, rawRow := range s.Values {
				t, ok := extractTimestampValue(timeIdx, rawRow)
				if !ok {
					continue
				}

				values := make(map[string]any, len(s.Columns))
				for i, col := range s.Columns {
					if i == timeIdx || i >= len(rawRow) {
						continue
					}
					values[col] = rawRow[i]
				}

				series.Rows = append(series.Rows, Row{Time: t, Values: values})
			}

			result.Series = append(result.Series, series)
		}
	}

	return result, nil
}

// WritePoints batch-inserts points into db via the line protocol write
// endpoint. An empty slice is a no-op.
func (c *HTTPClient) WritePoints(ctx context.Context, db string, points []DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	body := EncodeLineProtocol(points)

	resp, err := c.doRequest(ctx, http.MethodPost, "/write", url.Values{"db": {db}}, strings.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return tsdberr.AuthFailed("write_points", fmt.Errorf("unauthorized"))
	case resp.StatusCode >= 500:
		return tsdberr.Unreachable("write_points", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	case resp.StatusCode >= 400:
		return tsdberr.WriteRejected("write_points", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	return nil
}

// CreateDatabase creates db if it does not already exist; InfluxQL's
// CREATE DATABASE is itself idempotent.
func (c *HTTPClient) CreateDatabase(ctx context.Context, db string) error {
	_, err := c.rawQuery(ctx, "", fmt.Sprintf("CREATE DATABASE %q", db))
	return err
}

var _ Client = (*HTTPClient)(nil)
