package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/billview"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

// SummaryHandler serves the sidebar summary: month totals plus counts of
// upcoming bills per bucket.
type SummaryHandler struct {
	bills    *store.BillStore
	payments *store.PaymentStore
	logger   *slog.Logger
}

func NewSummaryHandler(bs *store.BillStore, ps *store.PaymentStore, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{bills: bs, payments: ps, logger: logger}
}

func (h *SummaryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = n
	}

	var (
		bills   []model.Bill
		avgs    map[int64]float64
		monthly map[string]float64
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		bills, err = h.bills.List(groupID)
		return err
	})
	g.Go(func() error {
		var err error
		avgs, err = h.bills.AvgAmounts(groupID)
		return err
	})
	g.Go(func() error {
		var err error
		monthly, err = h.payments.MonthlyTotals(groupID)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("load summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	for i := range bills {
		if !bills[i].Varies {
			continue
		}
		if avg, ok := avgs[bills[i].ID]; ok {
			a := avg
			bills[i].AvgAmount = &a
		}
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":  billview.SummarizeMonth(bills, monthly, offset, now),
		"upcoming": billview.CountUpcoming(bills, now),
	})
}
