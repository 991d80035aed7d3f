package backup

import "time"

// window is one half-open `(Start, End]` backup page.
type window struct {
	Start time.Time
	End   time.Time
}

// paginate splits [tStart, tEnd] into consecutive half-open windows no
// wider than pageWidth. A nil tStart anchors at the Unix epoch; a nil tEnd
// anchors at now. The result is empty when tStart is already at or past the
// resolved end.
func paginate(tStart, tEnd *time.Time, pageWidth time.Duration, now time.Time) []window {
	start := time.Unix(0, 0).UTC()
	if tStart != nil {
		start = *tStart
	}
	end := now
	if tEnd != nil {
		end = *tEnd
	}

	if !start.Before(end) {
		return nil
	}

	var windows []window
	for cursor := start; cursor.Before(end); {
		next := cursor.Add(pageWidth)
		if next.After(end) {
			next = end
		}
		windows = append(windows, window{Start: cursor, End: next})
		cursor = next
	}
	return windows
}
