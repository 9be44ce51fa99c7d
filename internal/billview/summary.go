package billview

import (
	"time"

	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/model"
)

// MonthSummary is the sidebar's paid/remaining/total breakdown for one
// calendar month.
type MonthSummary struct {
	Month     string  `json:"month"` // YYYY-MM
	Paid      float64 `json:"paid"`
	Remaining float64 `json:"remaining"`
	Total     float64 `json:"total"`
}

// SummarizeMonth aggregates the month at the given offset from now
// (0 = current month, -1 = previous, 1 = next). Paid comes from the
// per-month payment totals; remaining sums non-archived expense bills
// due within the month, using the fixed amount or the rolling average
// for variable bills.
func SummarizeMonth(bills []model.Bill, monthlyPaid map[string]float64, offset int, now time.Time) MonthSummary {
	target := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, offset, 0)
	key := dates.MonthKey(target)

	var remaining float64
	for _, b := range bills {
		if b.Archived || b.Type != model.TypeExpense {
			continue
		}
		due, err := dates.Parse(b.NextDue)
		if err != nil || dates.MonthKey(due) != key {
			continue
		}
		if amount, ok := b.ExpectedAmount(); ok {
			remaining += amount
		}
	}

	paid := monthlyPaid[key]
	return MonthSummary{
		Month:     key,
		Paid:      paid,
		Remaining: remaining,
		Total:     paid + remaining,
	}
}

// UpcomingCounts are the sidebar's due-soon counters, always relative to
// the current date regardless of month paging.
type UpcomingCounts struct {
	Overdue    int `json:"overdue"`
	ThisWeek   int `json:"this_week"`
	NextWeek   int `json:"next_week"`
	Next21Days int `json:"next_21_days"`
	Next30Days int `json:"next_30_days"`
}

// CountUpcoming tallies non-archived bills per bucket over the full bill
// set (not type-filtered).
func CountUpcoming(bills []model.Bill, today time.Time) UpcomingCounts {
	today = dates.StartOfDay(today)
	var c UpcomingCounts
	for _, b := range bills {
		if b.Archived {
			continue
		}
		if inDateRange(b.NextDue, RangeOverdue, today) {
			c.Overdue++
		}
		if inDateRange(b.NextDue, RangeThisWeek, today) {
			c.ThisWeek++
		}
		if inDateRange(b.NextDue, RangeNextWeek, today) {
			c.NextWeek++
		}
		if inDateRange(b.NextDue, RangeNext21Days, today) {
			c.Next21Days++
		}
		if inDateRange(b.NextDue, RangeNext30Days, today) {
			c.Next30Days++
		}
	}
	return c
}

// TrendPoint is one month of payment activity in a trend series.
type TrendPoint struct {
	Month string  `json:"month"` // YYYY-MM
	Total float64 `json:"total"`
}

// TrendSeries buckets payments into the last n calendar months ending
// with the current one, back-filling months with zero activity so the
// series is dense and gap-free. Payments with malformed dates are
// skipped.
func TrendSeries(payments []model.Payment, n int, now time.Time) []TrendPoint {
	if n <= 0 {
		return nil
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(n - 1), 0)
	totals := make(map[string]float64, n)

	series := make([]TrendPoint, n)
	for i := range series {
		key := dates.MonthKey(first.AddDate(0, i, 0))
		series[i] = TrendPoint{Month: key}
		totals[key] = 0
	}

	for _, p := range payments {
		paidOn, err := dates.Parse(p.PaymentDate)
		if err != nil {
			continue
		}
		key := dates.MonthKey(paidOn)
		if _, ok := totals[key]; ok {
			totals[key] += p.Amount
		}
	}

	for i := range series {
		series[i].Total = totals[series[i].Month]
	}
	return series
}
