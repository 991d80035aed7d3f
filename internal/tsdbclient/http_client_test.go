package tsdbclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdberr"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Config) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, Config{URL: server.URL, Timeout: 2 * time.Second}
}

func TestNewClientPingsAtConstruction(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewClientFailsOnUnreachablePing(t *testing.T) {
	cfg := Config{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}

	_, err := NewClient(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestHTTPClientListDatabasesExcludesInternal(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"series":[{"columns":["name"],"values":[["_internal"],["metrics"],["events"]]}]}]}`))
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	dbs, err := client.ListDatabases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics", "events"}, dbs)
}

func TestHTTPClientFieldKeysCached(t *testing.T) {
	calls := 0
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"series":[{"columns":["fieldKey","fieldType"],"values":[["usage","float"],["label","string"]]}]}]}`))
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	keys, err := client.FieldKeys(context.Background(), "metrics", "cpu")
	require.NoError(t, err)
	assert.Equal(t, FieldTypeFloat, keys["usage"])
	assert.Equal(t, FieldTypeString, keys["label"])
	assert.Equal(t, 1, calls)

	_, err = client.FieldKeys(context.Background(), "metrics", "cpu")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestHTTPClientQueryPreservesSeriesShape(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"series":[
			{"name":"cpu","tags":{"host":"a"},"columns":["time","usage"],"values":[["2024-01-01T00:00:00Z",1.5]]},
			{"name":"cpu","tags":{"host":"b"},"columns":["time","usage"],"values":[["2024-01-01T00:00:00Z",2.5]]}
		]}]}`))
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	result, err := client.Query(context.Background(), "metrics", `SELECT "usage" FROM "cpu" GROUP BY *`)
	require.NoError(t, err)
	require.Len(t, result.Series, 2)
	assert.Equal(t, "a", result.Series[0].Tags["host"])
	assert.Equal(t, "b", result.Series[1].Tags["host"])
	assert.Equal(t, float64(1.5), result.Series[0].Rows[0].Values["usage"])
}

func TestHTTPClientWritePointsEmptyIsNoop(t *testing.T) {
	called := false
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.URL.Path == "/write" {
			called = true
		}
		w.WriteHeader(http.StatusNoContent)
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	err = client.WritePoints(context.Background(), "metrics", nil)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestHTTPClientWritePointsClassifiesRejection(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("field type conflict"))
	})

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	points := []DataPoint{{
		Measurement: "cpu",
		Time:        time.Now(),
		Fields:      map[string]FieldValue{"usage": NewFloatValue(1)},
	}}

	err = client.WritePoints(context.Background(), "metrics", points)
	require.Error(t, err)

	kind, ok := tsdberr.Classify(err)
	require.True(t, ok)
	assert.Equal(t, tsdberr.KindWriteRejected, kind)
}
