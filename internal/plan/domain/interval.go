package domain

import "time"

// AddInterval advances t by count units in UTC. Month arithmetic clamps to the
// last day of the target month, so Jan 31 + 1 month is Feb 28 (or 29).
func AddInterval(t time.Time, unit IntervalUnit, count int) time.Time {
	t = t.UTC()
	switch unit {
	case IntervalDay:
		return t.AddDate(0, 0, count)
	case IntervalMonth:
		return addMonthsClamped(t, count)
	default:
		return t
	}
}

func (u IntervalUnit) Valid() bool {
	return u == IntervalDay || u == IntervalMonth
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC).AddDate(0, months, 0)
	lastDay := daysIn(first.Year(), first.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
