package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "notification-engine/internal/errors"
)

var brt = time.FixedZone("BRT", -3*3600)

func TestIntervalAt(t *testing.T) {
	wednesday := time.Date(2026, 10, 14, 16, 20, 0, 0, brt)
	monday := time.Date(2026, 10, 19, 8, 0, 0, 0, brt)

	tests := []struct {
		name     string
		interval Interval
		now      time.Time
		want     time.Time
	}{
		{"5min", In5Minutes, wednesday, wednesday.Add(5 * time.Minute)},
		{"15min", In15Minutes, wednesday, wednesday.Add(15 * time.Minute)},
		{"1h", In1Hour, wednesday, wednesday.Add(time.Hour)},
		{"3h", In3Hours, wednesday, wednesday.Add(3 * time.Hour)},
		{"tomorrow", Tomorrow9AM, wednesday, time.Date(2026, 10, 15, 9, 0, 0, 0, brt)},
		{"next monday from wednesday", NextMonday9AM, wednesday, time.Date(2026, 10, 19, 9, 0, 0, 0, brt)},
		{"next monday from monday", NextMonday9AM, monday, time.Date(2026, 10, 26, 9, 0, 0, 0, brt)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.interval.At(tc.now, brt)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestParseInterval(t *testing.T) {
	got, err := ParseInterval("tomorrow_9am")
	require.NoError(t, err)
	assert.Equal(t, Tomorrow9AM, got)

	_, err = ParseInterval("2h")
	assert.True(t, apperrors.IsInvalidRequest(err))
	assert.Len(t, Options(), 6)
}

func TestWorkWindowAdjust(t *testing.T) {
	w, err := ParseWorkWindow("07:30", "18:00")
	require.NoError(t, err)

	day := func(d, h, m int) time.Time { return time.Date(2026, 10, d, h, m, 0, 0, brt) }

	assert.True(t, day(15, 7, 30).Equal(w.Adjust(day(14, 22, 0), brt)), "late evening rolls to next morning")
	assert.True(t, day(14, 7, 30).Equal(w.Adjust(day(14, 6, 0), brt)), "early morning moves to start")
	assert.True(t, day(15, 7, 30).Equal(w.Adjust(day(14, 18, 0), brt)), "end is exclusive")
	assert.True(t, day(14, 12, 0).Equal(w.Adjust(day(14, 12, 0), brt)))
}

func TestParseWorkWindowRejectsInverted(t *testing.T) {
	_, err := ParseWorkWindow("18:00", "07:30")
	assert.Error(t, err)
	_, err = ParseWorkWindow("7h", "18:00")
	assert.Error(t, err)
}
