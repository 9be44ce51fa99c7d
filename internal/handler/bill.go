package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/billview"
	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/recurrence"
	"github.com/mbecker/billminder/internal/store"
	"github.com/mbecker/billminder/internal/websocket"
)

type BillHandler struct {
	bills    *store.BillStore
	payments *store.PaymentStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewBillHandler(bs *store.BillStore, ps *store.PaymentStore, hub *websocket.Hub, logger *slog.Logger) *BillHandler {
	return &BillHandler{bills: bs, payments: ps, hub: hub, logger: logger}
}

func (h *BillHandler) broadcast(groupID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(groupID, msg)
	}
}

type billRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Amount          *float64        `json:"amount" validate:"omitempty,gt=0"`
	Varies          bool            `json:"varies"`
	Frequency       string          `json:"frequency" validate:"required"`
	FrequencyType   string          `json:"frequency_type"`
	FrequencyConfig json.RawMessage `json:"frequency_config"`
	NextDue         string          `json:"next_due" validate:"required"`
	Type            string          `json:"type" validate:"omitempty,oneof=expense deposit"`
	Account         string          `json:"account"`
	Category        string          `json:"category"`
	Notes           string          `json:"notes"`
	Icon            string          `json:"icon"`
	AutoPay         bool            `json:"auto_payment"`
}

// toParams validates the recurrence triple and due date, returning the
// normalized store params.
func (h *BillHandler) toParams(w http.ResponseWriter, req billRequest) (store.BillParams, bool) {
	if req.FrequencyType == "" {
		req.FrequencyType = recurrence.TypeSimple
	}
	cfg := string(req.FrequencyConfig)
	if cfg == "" || cfg == "null" {
		cfg = "{}"
	}
	schedule, err := recurrence.Decode(req.Frequency, req.FrequencyType, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return store.BillParams{}, false
	}
	frequency, frequencyType, config := schedule.Frequency, schedule.Type, cfg
	if encoded, err := schedule.Encode(); err == nil {
		config = encoded
	}

	if _, err := dates.Parse(req.NextDue); err != nil {
		writeError(w, http.StatusBadRequest, "next_due must be a YYYY-MM-DD date")
		return store.BillParams{}, false
	}

	if req.Type == "" {
		req.Type = model.TypeExpense
	}
	if req.Icon == "" {
		req.Icon = "payment"
	}
	if req.Varies {
		req.Amount = nil
	}

	return store.BillParams{
		Name:            req.Name,
		Amount:          req.Amount,
		Varies:          req.Varies,
		Frequency:       frequency,
		FrequencyType:   frequencyType,
		FrequencyConfig: config,
		NextDue:         req.NextDue,
		Type:            req.Type,
		Account:         req.Account,
		Category:        req.Category,
		Notes:           req.Notes,
		Icon:            req.Icon,
		AutoPay:         req.AutoPay,
	}, true
}

// attachAvgs populates the rolling average on variable bills.
func (h *BillHandler) attachAvgs(groupID int64, bills []model.Bill) error {
	avgs, err := h.bills.AvgAmounts(groupID)
	if err != nil {
		return err
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
	return nil
}

// List returns the group's bills with the view filter applied
// server-side. Archived bills stay hidden unless a search is active.
func (h *BillHandler) List(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	bills, err := h.bills.List(groupID)
	if err != nil {
		h.logger.Error("list bills", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list bills")
		return
	}
	if err := h.attachAvgs(groupID, bills); err != nil {
		h.logger.Error("average amounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list bills")
		return
	}

	q := r.URL.Query()
	filter := billview.Filter{
		Search:       q.Get("search"),
		Type:         q.Get("type"),
		Account:      q.Get("account"),
		DateRange:    q.Get("date_range"),
		SelectedDate: q.Get("date"),
	}
	filtered := billview.Apply(bills, filter, time.Now())
	if filtered == nil {
		filtered = []model.Bill{}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (h *BillHandler) Create(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	var req billRequest
	if !decodeValid(w, r, &req) {
		return
	}
	params, ok := h.toParams(w, req)
	if !ok {
		return
	}

	bill, err := h.bills.Create(groupID, params)
	if err != nil {
		h.logger.Error("create bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create bill")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("bill", "created", bill.ID, nil))
	writeJSON(w, http.StatusCreated, bill)
}

func (h *BillHandler) Update(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.bills.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get bill")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}

	var req billRequest
	if !decodeValid(w, r, &req) {
		return
	}
	params, ok := h.toParams(w, req)
	if !ok {
		return
	}

	bill, err := h.bills.Update(groupID, id, params)
	if err != nil {
		h.logger.Error("update bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update bill")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("bill", "updated", id, nil))
	writeJSON(w, http.StatusOK, bill)
}

// Archive handles DELETE /bills/{id}: bills are archived, not removed,
// so their payment history keeps feeding trends.
func (h *BillHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true, "archived")
}

func (h *BillHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false, "unarchived")
}

func (h *BillHandler) setArchived(w http.ResponseWriter, r *http.Request, archived bool, action string) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.bills.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get bill")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}

	if err := h.bills.SetArchived(groupID, id, archived); err != nil {
		h.logger.Error("archive bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update bill")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("bill", action, id, nil))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// PermanentDelete removes the bill row and, through the FK cascade, its
// payments.
func (h *BillHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.bills.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get bill")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}

	if err := h.bills.Delete(groupID, id); err != nil {
		h.logger.Error("delete bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete bill")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("bill", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

type payRequest struct {
	Amount      *float64 `json:"amount" validate:"omitempty,gt=0"`
	PaymentDate string   `json:"payment_date"`
	AdvanceDue  *bool    `json:"advance_due"`
	Notes       string   `json:"notes"`
}

// Pay records a payment against the bill and, unless advance_due is
// false, rolls next_due forward one cycle.
func (h *BillHandler) Pay(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	bill, err := h.bills.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get bill")
		return
	}
	if bill == nil {
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}

	var req payRequest
	if !decodeValid(w, r, &req) {
		return
	}

	today := dates.StartOfDay(time.Now())
	paymentDate := dates.Format(today)
	if req.PaymentDate != "" {
		parsed, err := dates.Parse(req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "payment_date must be a YYYY-MM-DD date")
			return
		}
		paymentDate = dates.Format(parsed)
	}

	var amount float64
	if req.Amount != nil {
		amount = *req.Amount
	} else {
		bills := []model.Bill{*bill}
		if err := h.attachAvgs(groupID, bills); err != nil {
			h.logger.Error("average amounts", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record payment")
			return
		}
		expected, ok := bills[0].ExpectedAmount()
		if !ok {
			writeError(w, http.StatusBadRequest, "amount is required for this bill")
			return
		}
		amount = expected
	}

	payment, err := h.payments.Create(id, amount, paymentDate, req.Notes)
	if err != nil {
		h.logger.Error("create payment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}

	advance := req.AdvanceDue == nil || *req.AdvanceDue
	if advance {
		schedule, err := recurrence.Decode(bill.Frequency, bill.FrequencyType, bill.FrequencyConfig)
		if err != nil {
			h.logger.Error("decode schedule", "bill_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to advance bill")
			return
		}
		currentDue, err := dates.Parse(bill.NextDue)
		if err != nil {
			currentDue = today
		}
		next := schedule.Next(currentDue, today)
		if err := h.bills.Advance(id, dates.Format(next)); err != nil {
			h.logger.Error("advance bill", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to advance bill")
			return
		}
	}

	updated, err := h.bills.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get bill")
		return
	}
	if updated == nil {
		// Deleted out from under us between the payment and the re-read.
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("bill", "paid", id, map[string]any{
		"amount":   amount,
		"next_due": updated.NextDue,
	}))
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment": payment,
		"bill":    updated,
	})
}

// PaymentsByName returns the payment history for every cycle of the
// named bill, including archived and recreated incarnations.
func (h *BillHandler) PaymentsByName(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "bill name is required")
		return
	}

	payments, err := h.payments.ListByBillName(groupID, name)
	if err != nil {
		h.logger.Error("list payments by name", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// Accounts returns the distinct account names in use, for the filter
// dropdown.
func (h *BillHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.bills.Accounts(auth.GroupID(r.Context()))
	if err != nil {
		h.logger.Error("list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}
