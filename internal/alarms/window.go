package alarms

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Window is one daily occurrence of an alarm.
type Window struct {
	Start time.Time
	End   time.Time
	// Date is the local calendar date the window opened on, YYYY-MM-DD.
	Date string
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// parseClock accepts HH:MM or HH:MM:SS.
func parseClock(s string) (h, m, sec int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: alarm_time %q is not HH:MM[:SS]", ErrInvalidAlarm, s)
}

// WindowAt returns the window opened by the latest occurrence of the alarm time at or before now.
func WindowAt(a Alarm, now time.Time) (Window, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("%w: timezone %q", ErrInvalidAlarm, a.Timezone)
	}
	h, m, s, err := parseClock(a.AlarmTime)
	if err != nil {
		return Window{}, err
	}

	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), h, m, s, 0, loc)
	if start.After(local) {
		start = time.Date(local.Year(), local.Month(), local.Day()-1, h, m, s, 0, loc)
	}

	minutes := a.WindowMinutes
	if minutes <= 0 {
		minutes = DefaultWindowMinutes
	}
	return Window{
		Start: start,
		End:   start.Add(time.Duration(minutes) * time.Minute),
		Date:  start.Format(time.DateOnly),
	}, nil
}
