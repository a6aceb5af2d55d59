package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_Range(t *testing.T) {
	now := time.Date(2023, time.March, 31, 14, 30, 0, 0, time.UTC)
	endOfDay := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 23, 59, 59, 999999999, time.UTC)
	}

	tests := []struct {
		window Window
		from   time.Time
		to     time.Time
	}{
		{WindowRecent, now.Add(-2 * time.Hour), now},
		{WindowHour, now.Add(-time.Hour), now},
		{WindowToday, time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC), endOfDay(2023, time.March, 31)},
		{WindowYesterday, time.Date(2023, time.March, 30, 0, 0, 0, 0, time.UTC), endOfDay(2023, time.March, 30)},
		{WindowWeek, time.Date(2023, time.March, 24, 14, 30, 0, 0, time.UTC), now},
		{WindowFortnight, time.Date(2023, time.March, 17, 14, 30, 0, 0, time.UTC), now},
		// AddDate normalizes February 31st to March 3rd.
		{WindowMonth, time.Date(2023, time.March, 3, 14, 30, 0, 0, time.UTC), now},
		{WindowYear, time.Date(2022, time.March, 31, 14, 30, 0, 0, time.UTC), now},
	}
	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			r, err := tt.window.Range(now)
			require.NoError(t, err)
			assert.Equal(t, tt.from, r.From)
			assert.Equal(t, tt.to, r.To)
		})
	}
}

func TestWindow_RangeConvertsToUTC(t *testing.T) {
	amsterdam := time.FixedZone("CET", 3600)
	now := time.Date(2023, time.January, 12, 0, 30, 0, 0, amsterdam) // 23:30 UTC on the 11th

	r, err := WindowToday.Range(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, time.January, 11, 0, 0, 0, 0, time.UTC), r.From)
}

func TestWindow_RangeUnknown(t *testing.T) {
	_, err := Window("decade").Range(time.Now())
	assert.Error(t, err)
}

func TestWindows_AllResolve(t *testing.T) {
	for _, w := range Windows {
		_, err := w.Range(time.Now())
		assert.NoError(t, err, w)
	}
}
