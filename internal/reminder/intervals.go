package reminder

import (
	"fmt"
	"time"

	apperrors "notification-engine/internal/errors"
)

// Interval names a preset reminder delay.
type Interval string

const (
	In5Minutes    Interval = "5min"
	In15Minutes   Interval = "15min"
	In1Hour       Interval = "1h"
	In3Hours      Interval = "3h"
	Tomorrow9AM   Interval = "tomorrow_9am"
	NextMonday9AM Interval = "next_monday_9am"
)

// Option describes an interval for pickers.
type Option struct {
	Value       Interval `json:"value"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

var options = []Option{
	{In5Minutes, "In 5 minutes", "Remind me in 5 minutes"},
	{In15Minutes, "In 15 minutes", "Remind me in 15 minutes"},
	{In1Hour, "In 1 hour", "Remind me in 1 hour"},
	{In3Hours, "In 3 hours", "Remind me in 3 hours"},
	{Tomorrow9AM, "Tomorrow at 9:00", "Remind me tomorrow morning"},
	{NextMonday9AM, "Next Monday at 9:00", "Remind me at the start of next week"},
}

// Options lists the supported intervals in display order.
func Options() []Option {
	return append([]Option(nil), options...)
}

// ParseInterval validates a caller-supplied interval name.
func ParseInterval(s string) (Interval, error) {
	for _, o := range options {
		if string(o.Value) == s {
			return o.Value, nil
		}
	}
	return "", apperrors.NewInvalidRequest("unknown reminder interval %q", s)
}

// At computes the instant for interval relative to now in loc.
func (i Interval) At(now time.Time, loc *time.Location) (time.Time, error) {
	local := now.In(loc)
	switch i {
	case In5Minutes:
		return now.Add(5 * time.Minute), nil
	case In15Minutes:
		return now.Add(15 * time.Minute), nil
	case In1Hour:
		return now.Add(time.Hour), nil
	case In3Hours:
		return now.Add(3 * time.Hour), nil
	case Tomorrow9AM:
		return time.Date(local.Year(), local.Month(), local.Day()+1, 9, 0, 0, 0, loc), nil
	case NextMonday9AM:
		days := (8 - int(local.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(local.Year(), local.Month(), local.Day()+days, 9, 0, 0, 0, loc), nil
	}
	return time.Time{}, apperrors.NewInvalidRequest("unknown reminder interval %q", string(i))
}

// WorkWindow is a daily [Start, End) range in minutes after local midnight.
type WorkWindow struct {
	Start int
	End   int
}

// ParseWorkWindow reads "HH:MM" bounds.
func ParseWorkWindow(start, end string) (WorkWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return WorkWindow{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return WorkWindow{}, err
	}
	if e <= s {
		return WorkWindow{}, fmt.Errorf("work window end %s must be after start %s", end, start)
	}
	return WorkWindow{Start: s, End: e}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Adjust moves t forward into the window. Instants before the start move to
// that day's start, instants at or after the end move to the next day's start.
func (w WorkWindow) Adjust(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	dayStart := func(offset int) time.Time {
		return time.Date(local.Year(), local.Month(), local.Day()+offset, w.Start/60, w.Start%60, 0, 0, loc)
	}
	switch {
	case minute < w.Start:
		return dayStart(0)
	case minute >= w.End:
		return dayStart(1)
	default:
		return t
	}
}
