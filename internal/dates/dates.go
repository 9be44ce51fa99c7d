// Package dates handles the plain YYYY-MM-DD calendar dates used for due
// dates and payment dates. Strings are parsed by component and built as
// local-midnight times, deliberately bypassing timezone-sensitive ISO
// parsing so users west of UTC never see off-by-one-day dates.
package dates

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Parse converts a YYYY-MM-DD string to local midnight.
func Parse(s string) (time.Time, error) {
	var year, month, day int
	if _, err := fmt.Sscanf(s, "%4d-%2d-%2d", &year, &month, &day); err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	if len(s) != len(layout) || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("parse date %q: out of range", s)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	// Reject normalized overflow like 2024-02-31
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("parse date %q: no such day", s)
	}
	return t, nil
}

// Format renders a time as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(layout)
}

// StartOfDay truncates a time to local midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MonthKey renders the YYYY-MM bucket key for a time.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// DaysIn returns the number of days in the month containing t.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.Local).Day()
}
