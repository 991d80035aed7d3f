package backup

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tacoronterivero/tsdb-backup-orchestrator/internal/config"
)

// filterMeasurements applies the include-dominates-exclude rule: if include
// is non-empty, keep only measurements present in it; otherwise drop any
// measurement present in exclude.
func filterMeasurements(all []string, include, exclude []string) []string {
	if len(include) > 0 {
		allowed := toSet(include)
		var kept []string
		for _, m := range all {
			if allowed[m] {
				kept = append(kept, m)
			}
		}
		return kept
	}

	denied := toSet(exclude)
	var kept []string
	for _, m := range all {
		if !denied[m] {
			kept = append(kept, m)
		}
	}
	return kept
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

// activeFieldSet computes the fields a measurement's backup run will
// transfer: type filter, then include/exclude, then obsolescence. Fields
// dropped for obsolescence are logged here; the error is non-nil only when
// a field-key or timestamp lookup fails.
func (m *Manager) activeFieldSet(ctx context.Context, sourceDB, destDB, measurement string, spec config.MeasurementSpecific, fieldObsoleteThreshold string) ([]string, error) {
	declared, err := m.source.FieldKeys(ctx, sourceDB, measurement)
	if err != nil {
		return nil, err
	}

	allowedNormalized := toSet(spec.Fields.EffectiveTypes())

	var typed []string
	for name, declaredType := range declared {
		normalized, ok := declaredType.Normalize()
		if !ok {
			continue
		}
		if allowedNormalized[string(normalized)] {
			typed = append(typed, name)
		}
	}
	sort.Strings(typed)

	filtered := filterMeasurements(typed, spec.Fields.Include, spec.Fields.Exclude)

	if fieldObsoleteThreshold == "" {
		return filtered, nil
	}

	threshold, err := config.ParseDuration(fieldObsoleteThreshold)
	if err != nil {
		m.logger.Warn("field_obsolete_threshold is not a recognized duration, skipping field obsolescence filter",
			"measurement", measurement, "value", fieldObsoleteThreshold, "error", err)
		return filtered, nil
	}

	now := m.now()
	var active []string
	for _, field := range filtered {
		last, err := m.dest.LastTimestamp(ctx, destDB, measurement, []string{field})
		if err != nil {
			return nil, err
		}
		if last != nil && now.Sub(*last) > threshold {
			m.logger.Info("dropping obsolete field", "measurement", measurement, "field", field, "last_write", last)
			continue
		}
		active = append(active, field)
	}

	return active, nil
}

// isMeasurementObsolete reports whether t_last is old enough relative to
// now that the whole measurement should be skipped in incremental mode. An
// unset threshold never causes a skip.
func isMeasurementObsolete(now, lastWrite time.Time, thresholdStr string, logger *slog.Logger) bool {
	if thresholdStr == "" {
		return false
	}
	threshold, err := config.ParseDuration(thresholdStr)
	if err != nil {
		logger.Warn("incremental.obsolete_threshold is not a recognized duration, skipping obsolescence check", "value", thresholdStr, "error", err)
		return false
	}
	return now.Sub(lastWrite) > threshold
}
