package telemetry

import (
	"fmt"
	"time"
)

// Window names a preset time range relative to now.
type Window string

const (
	WindowRecent    Window = "recent" // last 2 hours
	WindowHour      Window = "hour"
	WindowToday     Window = "today"
	WindowYesterday Window = "yesterday"
	WindowWeek      Window = "week"
	WindowFortnight Window = "fortnight"
	WindowMonth     Window = "month"
	WindowYear      Window = "year"
)

// Windows lists every preset in route order.
var Windows = []Window{
	WindowRecent,
	WindowHour,
	WindowToday,
	WindowYesterday,
	WindowWeek,
	WindowFortnight,
	WindowMonth,
	WindowYear,
}

// TimeRange is an inclusive [From, To] interval in UTC.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Range computes the window's bounds at now. Calendar windows use UTC days.
func (w Window) Range(now time.Time) (TimeRange, error) {
	now = now.UTC()
	switch w {
	case WindowRecent:
		return TimeRange{From: now.Add(-2 * time.Hour), To: now}, nil
	case WindowHour:
		return TimeRange{From: now.Add(-time.Hour), To: now}, nil
	case WindowToday:
		return DayRange(now), nil
	case WindowYesterday:
		return DayRange(now.AddDate(0, 0, -1)), nil
	case WindowWeek:
		return TimeRange{From: now.AddDate(0, 0, -7), To: now}, nil
	case WindowFortnight:
		return TimeRange{From: now.AddDate(0, 0, -14), To: now}, nil
	case WindowMonth:
		return TimeRange{From: now.AddDate(0, -1, 0), To: now}, nil
	case WindowYear:
		return TimeRange{From: now.AddDate(-1, 0, 0), To: now}, nil
	default:
		return TimeRange{}, fmt.Errorf("unknown window %q", string(w))
	}
}

// DayRange covers the UTC calendar day containing t.
func DayRange(t time.Time) TimeRange {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return TimeRange{From: start, To: start.AddDate(0, 0, 1).Add(-time.Nanosecond)}
}
