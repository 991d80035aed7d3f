// Package config loads and validates a worker's declarative configuration
// file: environment-variable substitution, dotted-path lookup, and
// structural validation of the backup mode, endpoints and filters.
package config

// WorkerConfig is a single worker's immutable, fully-resolved
// configuration. It is constructed once by Load and never mutated
// afterward; its lifetime is the worker's lifetime.
type WorkerConfig struct {
	Source       SourceConfig       `mapstructure:"source" validate:"required"`
	Destination  EndpointConfig     `mapstructure:"destination" validate:"required"`
	Options      Options            `mapstructure:"options" validate:"required"`
	Measurements MeasurementFilters `mapstructure:"measurements"`
}

// EndpointConfig describes one TSDB HTTP endpoint.
type EndpointConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SourceConfig is the source endpoint plus the database mapping list and
// optional aggregation mode that only make sense on the read side.
type SourceConfig struct {
	URL       string            `mapstructure:"url" validate:"required"`
	Username  string            `mapstructure:"username"`
	Password  string            `mapstructure:"password"`
	Databases []DatabaseMapping `mapstructure:"databases" validate:"required,min=1,dive"`
	GroupBy   string            `mapstructure:"group_by"`
}

// DatabaseMapping pairs one source database with its destination.
type DatabaseMapping struct {
	Name        string `mapstructure:"name" validate:"required"`
	Destination string `mapstructure:"destination" validate:"required"`
}

// Options holds every `options.*` key from §4.2.
type Options struct {
	BackupMode             string             `mapstructure:"backup_mode" validate:"required,oneof=range incremental"`
	Range                  RangeOptions       `mapstructure:"range"`
	Incremental            IncrementalOptions `mapstructure:"incremental"`
	FieldObsoleteThreshold string             `mapstructure:"field_obsolete_threshold"`
	DaysOfPagination       int                `mapstructure:"days_of_pagination"`
	Retries                int                `mapstructure:"retries"`
	RetryDelay             int                `mapstructure:"retry_delay"`
	TimeoutClient          int                `mapstructure:"timeout_client"`
	LogAggregatorURL       string             `mapstructure:"log_aggregator_url"`
}

// RangeOptions is required when Options.BackupMode == "range".
type RangeOptions struct {
	StartDate string `mapstructure:"start_date"`
	EndDate   string `mapstructure:"end_date"`
}

// IncrementalOptions configures incremental mode; Schedule empty means
// one-shot incremental rather than cron-driven.
type IncrementalOptions struct {
	Schedule          string `mapstructure:"schedule"`
	ObsoleteThreshold string `mapstructure:"obsolete_threshold"`
}

// MeasurementFilters is the global include/exclude plus per-measurement
// overrides from `measurements.*`.
type MeasurementFilters struct {
	Include  []string                       `mapstructure:"include"`
	Exclude  []string                       `mapstructure:"exclude"`
	Specific map[string]MeasurementSpecific `mapstructure:"specific"`
}

// MeasurementSpecific overrides field filtering for one named measurement.
type MeasurementSpecific struct {
	Fields FieldFilter `mapstructure:"fields"`
}

// FieldFilter restricts a measurement's active field set by normalized type
// and by name. Types defaults to all three normalized types when empty.
type FieldFilter struct {
	Types   []string `mapstructure:"types" validate:"dive,oneof=numeric string boolean"`
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// DefaultDaysOfPagination is used when options.days_of_pagination is unset.
const DefaultDaysOfPagination = 7

// DefaultRetries is used when options.retries is unset.
const DefaultRetries = 3

// DefaultRetryDelaySeconds is used when options.retry_delay is unset.
const DefaultRetryDelaySeconds = 5

// DefaultTimeoutClientSeconds is used when options.timeout_client is unset.
const DefaultTimeoutClientSeconds = 20

// applyDefaults fills zero-valued optional fields with their documented
// defaults. Called once after decoding, before validation.
func (w *WorkerConfig) applyDefaults() {
	if w.Options.DaysOfPagination == 0 {
		w.Options.DaysOfPagination = DefaultDaysOfPagination
	}
	if w.Options.Retries == 0 {
		w.Options.Retries = DefaultRetries
	}
	if w.Options.RetryDelay == 0 {
		w.Options.RetryDelay = DefaultRetryDelaySeconds
	}
	if w.Options.TimeoutClient == 0 {
		w.Options.TimeoutClient = DefaultTimeoutClientSeconds
	}
}

// MeasurementSpecificFor returns the override for name, and whether one is
// configured.
func (f MeasurementFilters) MeasurementSpecificFor(name string) (MeasurementSpecific, bool) {
	spec, ok := f.Specific[name]
	return spec, ok
}

// EffectiveTypes returns the configured normalized type whitelist, defaulting to all
// three when unset.
func (f FieldFilter) EffectiveTypes() []string {
	if len(f.Types) == 0 {
		return []string{"numeric", "string", "boolean"}
	}
	return f.Types
}
