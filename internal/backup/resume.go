package backup

import (
	"context"
	"time"
)

// resumeBounds computes the t_start a measurement's incremental backup
// resumes from; the end of the range is always left unbounded, which
// pagination anchors to now. skip is true when
// the measurement has no new data to transfer: either the source has never
// had a point for these fields, or its last write is older than
// incrementalObsoleteThreshold.
func (m *Manager) resumeBounds(ctx context.Context, sourceDB, destDB, measurement string, fields []string, incrementalObsoleteThreshold string) (tStart *time.Time, skip bool, err error) {
	last, err := m.dest.LastTimestamp(ctx, destDB, measurement, fields)
	if err != nil {
		return nil, false, err
	}

	if last != nil {
		if isMeasurementObsolete(m.now(), *last, incrementalObsoleteThreshold, m.logger) {
			return nil, true, nil
		}
		return last, false, nil
	}

	first, err := m.source.FirstTimestamp(ctx, sourceDB, measurement, fields)
	if err != nil {
		return nil, false, err
	}
	if first == nil {
		return nil, true, nil
	}

	cursor := first.Add(-time.Microsecond)
	return &cursor, false, nil
}
