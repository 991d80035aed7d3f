package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validIncrementalConfig = `
source:
  url: http://source.internal:8086
  databases:
    - name: metrics
      destination: metrics_copy
options:
  backup_mode: incremental
  days_of_pagination: 3
destination:
  url: http://dest.internal:8086
`

func TestLoadValidIncrementalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "prod.yaml", validIncrementalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Name)
	assert.Equal(t, "incremental", cfg.Worker.Options.BackupMode)
	assert.Equal(t, 3, cfg.Worker.Options.DaysOfPagination)
	assert.Equal(t, DefaultRetries, cfg.Worker.Options.Retries)
	require.Len(t, cfg.Worker.Source.Databases, 1)
	assert.Equal(t, "metrics", cfg.Worker.Source.Databases[0].Name)
	assert.Equal(t, "metrics_copy", cfg.Worker.Source.Databases[0].Destination)
}

func TestLoadResolvesEnvPlaceholders(t *testing.T) {
	os.Setenv("TSDB_BACKUP_TEST_SOURCE_HOST", "influx-a")
	defer os.Unsetenv("TSDB_BACKUP_TEST_SOURCE_HOST")

	dir := t.TempDir()
	content := `
source:
  url: http://${TSDB_BACKUP_TEST_SOURCE_HOST}:8086
  databases:
    - name: metrics
      destination: metrics_copy
options:
  backup_mode: incremental
destination:
  url: http://dest.internal:8086
`
	path := writeConfigFile(t, dir, "env.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://influx-a:8086", cfg.Worker.Source.URL)
}

func TestLoadRejectsInvalidBackupMode(t *testing.T) {
	dir := t.TempDir()
	content := `
source:
  url: http://source.internal:8086
  databases:
    - name: metrics
      destination: metrics_copy
options:
  backup_mode: bogus
destination:
  url: http://dest.internal:8086
`
	path := writeConfigFile(t, dir, "bad.yaml", content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingSourceURL(t *testing.T) {
	dir := t.TempDir()
	content := `
source:
  databases:
    - name: metrics
      destination: metrics_copy
options:
  backup_mode: incremental
destination:
  url: http://dest.internal:8086
`
	path := writeConfigFile(t, dir, "bad.yaml", content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresRangeDatesInRangeMode(t *testing.T) {
	dir := t.TempDir()
	content := `
source:
  url: http://source.internal:8086
  databases:
    - name: metrics
      destination: metrics_copy
options:
  backup_mode: range
destination:
  url: http://dest.internal:8086
`
	path := writeConfigFile(t, dir, "range.yaml", content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigGetDottedPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "prod.yaml", validIncrementalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "incremental", cfg.Get("options.backup_mode", ""))
	assert.Equal(t, "fallback", cfg.Get("options.nonexistent", "fallback"))
}
