// Package billview derives the filtered bill views and period aggregates
// the client renders. Everything here is pure: no I/O, no clock reads —
// "today" is always a parameter.
package billview

import (
	"strconv"
	"strings"
	"time"

	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/model"
)

// Date-range buckets, computed relative to local-midnight today.
const (
	RangeAll        = "all"
	RangeOverdue    = "overdue"
	RangeThisWeek   = "thisWeek"
	RangeNextWeek   = "nextWeek"
	RangeNext21Days = "next21Days"
	RangeNext30Days = "next30Days"
)

// Filter describes the bill-list view the client requested.
type Filter struct {
	// Search is a case-insensitive substring matched against name,
	// amount-as-string, or due date. A non-empty search reaches
	// archived bills; otherwise archived bills are invisible.
	Search string

	// Type filters by transaction type; "all" or "" means no constraint.
	Type string

	// Account filters by exact account label when set.
	Account string

	// DateRange selects one of the bucket constants above.
	DateRange string

	// SelectedDate filters to an exact YYYY-MM-DD due date when set.
	SelectedDate string
}

// Apply computes the subset of bills the filter selects. Relative order
// of the input is preserved and the input slice is never mutated.
// Malformed due dates simply never match date-based filters.
func Apply(bills []model.Bill, f Filter, today time.Time) []model.Bill {
	today = dates.StartOfDay(today)
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]model.Bill, 0, len(bills))
	for _, b := range bills {
		// Archived bills are only ever reachable through search.
		if search == "" && b.Archived {
			continue
		}
		if search != "" && !matchesSearch(b, search) {
			continue
		}
		if f.Type != "" && f.Type != "all" && b.Type != f.Type {
			continue
		}
		if f.Account != "" && b.Account != f.Account {
			continue
		}
		if !inDateRange(b.NextDue, f.DateRange, today) {
			continue
		}
		if f.SelectedDate != "" && b.NextDue != f.SelectedDate {
			continue
		}
		out = append(out, b)
	}
	return out
}

func matchesSearch(b model.Bill, search string) bool {
	if strings.Contains(strings.ToLower(b.Name), search) {
		return true
	}
	if b.Amount != nil && strings.Contains(strconv.FormatFloat(*b.Amount, 'f', -1, 64), search) {
		return true
	}
	return strings.Contains(b.NextDue, search)
}

func inDateRange(nextDue, dateRange string, today time.Time) bool {
	switch dateRange {
	case "", RangeAll:
		return true
	}

	due, err := dates.Parse(nextDue)
	if err != nil {
		return false
	}

	switch dateRange {
	case RangeOverdue:
		return due.Before(today)
	case RangeThisWeek:
		return !due.Before(today) && due.Before(today.AddDate(0, 0, 7))
	case RangeNextWeek:
		return !due.Before(today.AddDate(0, 0, 7)) && due.Before(today.AddDate(0, 0, 14))
	case RangeNext21Days:
		return !due.Before(today) && due.Before(today.AddDate(0, 0, 21))
	case RangeNext30Days:
		return !due.Before(today) && due.Before(today.AddDate(0, 0, 30))
	default:
		return true
	}
}
