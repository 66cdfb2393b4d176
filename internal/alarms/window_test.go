package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAtPicksLatestOccurrence(t *testing.T) {
	a := Alarm{AlarmTime: "07:00:00", Timezone: "America/New_York", WindowMinutes: 15}

	// 11:30 UTC is 07:30 EDT
	w, err := WindowAt(a, time.Date(2026, 6, 2, 11, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-06-02", w.Date)
	assert.True(t, w.Start.Equal(time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC)))
	assert.True(t, w.End.Equal(time.Date(2026, 6, 2, 11, 15, 0, 0, time.UTC)))

	// 09:00 UTC is 05:00 EDT, before today's alarm
	w, err = WindowAt(a, time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01", w.Date)
}

func TestWindowDateUsesLocalCalendar(t *testing.T) {
	a := Alarm{AlarmTime: "23:50", Timezone: "Asia/Tokyo"}

	// 15:00 UTC is 00:00 JST the next day; the window opened at 23:50 JST the day before
	w, err := WindowAt(a, time.Date(2026, 1, 31, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-01-31", w.Date)
	assert.Equal(t, DefaultWindowMinutes*time.Minute, w.End.Sub(w.Start))
	assert.True(t, w.Contains(time.Date(2026, 1, 31, 15, 0, 0, 0, time.UTC)))
}

func TestParseClock(t *testing.T) {
	h, m, s, err := parseClock("06:45")
	require.NoError(t, err)
	assert.Equal(t, []int{6, 45, 0}, []int{h, m, s})

	_, _, _, err = parseClock("6am")
	assert.ErrorIs(t, err, ErrInvalidAlarm)
}
