// Package autopay sweeps bills flagged for automatic payment, records
// the payment, and rolls each bill to its next due date.
package autopay

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/recurrence"
	"github.com/mbecker/billminder/internal/store"
	"github.com/mbecker/billminder/internal/websocket"
)

// Processor runs the auto-pay sweep.
type Processor struct {
	bills    *store.BillStore
	payments *store.PaymentStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func New(bills *store.BillStore, payments *store.PaymentStore, hub *websocket.Hub, logger *slog.Logger) *Processor {
	return &Processor{
		bills:    bills,
		payments: payments,
		hub:      hub,
		logger:   logger,
	}
}

// Run sweeps once immediately, then on every tick until the context is
// canceled.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	p.sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) sweep() {
	n, err := p.RunOnce(time.Now())
	if err != nil {
		p.logger.Error("auto-pay sweep failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("auto-pay sweep complete", "payments", n)
	}
}

// RunOnce processes every auto-pay bill due on or before now. The sweep
// is idempotent per calendar day: a bill with a payment already recorded
// today is skipped, so restarts never double-pay.
func (p *Processor) RunOnce(now time.Time) (int, error) {
	today := dates.StartOfDay(now)
	todayStr := dates.Format(today)

	due, err := p.bills.ListDue(todayStr)
	if err != nil {
		return 0, err
	}

	// Rolling averages for variable bills, fetched once per group.
	avgsByGroup := make(map[int64]map[int64]float64)

	processed := 0
	for _, b := range due {
		if !b.AutoPay {
			continue
		}

		paid, err := p.payments.ExistsOnDate(b.ID, todayStr)
		if err != nil {
			return processed, err
		}
		if paid {
			continue
		}

		avgs, ok := avgsByGroup[b.GroupID]
		if !ok {
			avgs, err = p.bills.AvgAmounts(b.GroupID)
			if err != nil {
				return processed, err
			}
			avgsByGroup[b.GroupID] = avgs
		}
		if avg, ok := avgs[b.ID]; ok {
			b.AvgAmount = &avg
		}

		amount, ok := b.ExpectedAmount()
		if !ok {
			p.logger.Warn("skipping auto-pay bill with no known amount",
				"bill_id", b.ID, "name", b.Name)
			continue
		}

		schedule, err := recurrence.Decode(b.Frequency, b.FrequencyType, b.FrequencyConfig)
		if err != nil {
			p.logger.Warn("skipping auto-pay bill with invalid schedule",
				"bill_id", b.ID, "name", b.Name, "error", err)
			continue
		}

		if _, err := p.payments.Create(b.ID, amount, todayStr, "Auto-payment"); err != nil {
			return processed, err
		}

		currentDue, err := dates.Parse(b.NextDue)
		if err != nil {
			currentDue = today
		}
		next := schedule.Next(currentDue, today)
		if err := p.bills.Advance(b.ID, dates.Format(next)); err != nil {
			return processed, err
		}

		p.hub.Broadcast(b.GroupID, websocket.NewMessage("bill", "paid", b.ID, map[string]any{
			"amount":   amount,
			"next_due": dates.Format(next),
			"auto":     true,
		}))
		p.logger.Info("auto-paid bill",
			"bill_id", b.ID, "name", b.Name, "amount", amount, "next_due", dates.Format(next))
		processed++
	}
	return processed, nil
}
