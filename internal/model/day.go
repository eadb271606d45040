package model

import "time"

// DayFormat is the civil date layout used in APIs and SQLite storage.
const DayFormat = "2006-01-02"

// DayOf normalizes t to UTC midnight of its calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(d time.Time) string {
	return d.UTC().Format(DayFormat)
}

// ParseDay parses YYYY-MM-DD into UTC midnight.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayFormat, s, time.UTC)
}

// NextDay returns the UTC midnight following d.
func NextDay(d time.Time) time.Time {
	return DayOf(d).AddDate(0, 0, 1)
}

// DaysApart returns the whole-day distance from a to b. Positive when b is
// after a.
func DaysApart(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)) / (24 * time.Hour))
}
