package usage

import "time"

// Quota windows are pinned to UTC so resets and bucket edges are
// reproducible across environments. All inputs are normalized here;
// callers may pass times in any location.

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStart returns midnight UTC of the day after t.
func NextDayStart(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// MonthStart returns 00:00 UTC on the first of the month containing t.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns 00:00 UTC on the first of the following month.
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}
