package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/tsdberr"
)

var structValidator = validator.New()

// Config is a loaded, validated worker configuration plus the dotted-path
// lookup surface over its raw tree, matching the original declarative
// loader's `get(key_path, default)` contract.
type Config struct {
	Name   string
	Worker WorkerConfig

	v *viper.Viper
}

// Get returns the value at dotted path, or def if the path is not set in
// the source file. Path segments match the YAML keys verbatim
// (e.g. "options.retries").
func (c *Config) Get(path string, def any) any {
	if !c.v.IsSet(path) {
		return def
	}
	return c.v.Get(path)
}

// Load reads path, resolves `${VAR}`/`$VAR`/`${VAR:-default}` placeholders
// across the entire file before parsing, decodes it into a WorkerConfig and
// validates it. The config's Name is derived from the file's base name
// without extension, used to scope per-worker logs and locks.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, tsdberr.ConfigurationError("load", fmt.Errorf("reading %s: %w", path, err))
	}

	resolved := SubstituteEnv(string(raw))

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(resolved)); err != nil {
		return nil, tsdberr.ConfigurationError("load", fmt.Errorf("parsing %s: %w", path, err))
	}

	var worker WorkerConfig
	if err := v.Unmarshal(&worker); err != nil {
		return nil, tsdberr.ConfigurationError("load", fmt.Errorf("decoding %s: %w", path, err))
	}
	worker.applyDefaults()

	if err := validateWorkerConfig(&worker); err != nil {
		return nil, tsdberr.ConfigurationError("load", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &Config{Name: name, Worker: worker, v: v}, nil
}

func validateWorkerConfig(w *WorkerConfig) error {
	if err := structValidator.Struct(w); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if w.Options.BackupMode == "range" {
		if w.Options.Range.StartDate == "" || w.Options.Range.EndDate == "" {
			return fmt.Errorf("options.range.start_date and options.range.end_date are required when backup_mode is range")
		}
	}

	// Obsolescence threshold strings are intentionally not validated here:
	// an unparseable duration disables that obsolescence filter at
	// evaluation time (see internal/backup) rather than failing the load,
	// per the duration-parsing design note that these filters never cause
	// a hard failure.

	return nil
}
