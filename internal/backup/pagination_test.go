package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginateNoOverlapNoGap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	windows := paginate(&start, &end, 3*24*time.Hour, time.Now())

	require.NotEmpty(t, windows)
	assert.True(t, windows[0].Start.Equal(start), "first window must start at t_start")
	assert.True(t, windows[len(windows)-1].End.Equal(end), "last window must end at t_end")

	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i-1].End.Equal(windows[i].Start), "window %d must start exactly where window %d ended", i, i-1)
	}
}

func TestPaginateNilStartAnchorsAtEpoch(t *testing.T) {
	end := time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)
	windows := paginate(nil, &end, 24*time.Hour, time.Now())
	require.Len(t, windows, 1)
	assert.Equal(t, time.Unix(0, 0).UTC(), windows[0].Start)
}

func TestPaginateNilEndAnchorsAtNow(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	start := now.Add(-2 * time.Hour)
	windows := paginate(&start, nil, 24*time.Hour, now)
	require.Len(t, windows, 1)
	assert.Equal(t, now, windows[0].End)
}

func TestPaginateEmptyWhenStartNotBeforeEnd(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := start
	windows := paginate(&start, &end, 24*time.Hour, time.Now())
	assert.Empty(t, windows)
}
