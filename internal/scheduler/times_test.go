package scheduler

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDailyTimes(t *testing.T) {
	got, err := ParseDailyTimes([]string{"14:00", "06:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"06:00", "14:00"}, got.Strings())

	bad := map[string][]string{
		"empty":        {},
		"too many":     {"01:00", "02:00", "03:00", "04:00"},
		"no zero":      {"6:00"},
		"seconds":      {"06:00:00"},
		"hour range":   {"24:00"},
		"minute range": {"06:60"},
		"duplicate":    {"06:00", "06:00"},
		"garbage":      {"noon"},
	}
	for name, in := range bad {
		_, err := ParseDailyTimes(in)
		assert.Error(t, err, name)
	}

	_, err = ParseDailyTimes([]string{"06:00", "06:00"})
	assert.ErrorIs(t, err, ErrDuplicateTime)
	_, err = ParseDailyTimes(nil)
	assert.ErrorIs(t, err, ErrTimeCount)
	_, err = ParseDailyTimes([]string{"6:00"})
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestValidTime(t *testing.T) {
	assert.True(t, ValidTime("00:00"))
	assert.True(t, ValidTime("23:59"))
	assert.False(t, ValidTime("7:05"))
	assert.False(t, ValidTime("07:5"))
	assert.False(t, ValidTime(" 07:05"))
}

func TestDailyTimesNext(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	day := func(d, h, m int) time.Time { return time.Date(2024, 11, d, h, m, 0, 0, madrid) }

	tests := []struct {
		name  string
		times []string
		now   time.Time
		want  time.Time
	}{
		{"later today", []string{"06:00", "14:00"}, day(20, 10, 0), day(20, 14, 0)},
		{"wraps to tomorrow", []string{"06:00", "14:00"}, day(20, 20, 0), day(21, 6, 0)},
		{"strictly after", []string{"06:00", "14:00"}, day(20, 14, 0), day(21, 6, 0)},
		{"before first", []string{"06:00", "14:00", "22:30"}, day(20, 1, 0), day(20, 6, 0)},
		{"third slot", []string{"06:00", "14:00", "22:30"}, day(20, 15, 0), day(20, 22, 30)},
		{"single time", []string{"06:00"}, day(20, 6, 0).Add(time.Second), day(21, 6, 0)},
		{"month end", []string{"06:00"}, day(30, 23, 0), time.Date(2024, 12, 1, 6, 0, 0, 0, madrid)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times, err := ParseDailyTimes(tt.times)
			require.NoError(t, err)
			got := times.Next(tt.now)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestDailyTimesNextAcrossDST(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	times, err := ParseDailyTimes([]string{"06:00"})
	require.NoError(t, err)

	// Clocks go forward on 2024-03-31.
	now := time.Date(2024, 3, 30, 7, 0, 0, 0, madrid)
	got := times.Next(now)
	assert.Equal(t, 6, got.Hour())
	assert.Equal(t, 31, got.Day())
	assert.Equal(t, 22*time.Hour, got.Sub(now))
}
