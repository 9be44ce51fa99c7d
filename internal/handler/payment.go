package handler

import (
	"log/slog"
	"net/http"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
	"github.com/mbecker/billminder/internal/websocket"
)

type PaymentHandler struct {
	payments *store.PaymentStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewPaymentHandler(ps *store.PaymentStore, hub *websocket.Hub, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: ps, hub: hub, logger: logger}
}

func (h *PaymentHandler) broadcast(groupID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(groupID, msg)
	}
}

type paymentRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PaymentDate string  `json:"payment_date" validate:"required"`
	Notes       string  `json:"notes"`
}

func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.payments.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get payment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	var req paymentRequest
	if !decodeValid(w, r, &req) {
		return
	}
	parsed, err := dates.Parse(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payment_date must be a YYYY-MM-DD date")
		return
	}

	payment, err := h.payments.Update(id, req.Amount, dates.Format(parsed), req.Notes)
	if err != nil {
		h.logger.Error("update payment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update payment")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("payment", "updated", id, nil))
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.payments.GetByID(groupID, id)
	if err != nil {
		h.logger.Error("get payment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	if err := h.payments.Delete(id); err != nil {
		h.logger.Error("delete payment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete payment")
		return
	}

	h.broadcast(groupID, websocket.NewMessage("payment", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Monthly returns the group's payment totals keyed by YYYY-MM.
func (h *PaymentHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	totals, err := h.payments.MonthlyTotals(auth.GroupID(r.Context()))
	if err != nil {
		h.logger.Error("monthly totals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load totals")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// All returns the full payment history with bill name and icon joined
// in, newest first, for the trends view.
func (h *PaymentHandler) All(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListAll(auth.GroupID(r.Context()))
	if err != nil {
		h.logger.Error("list payments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// MonthlyForBill returns per-month totals for one bill name.
func (h *PaymentHandler) MonthlyForBill(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "bill name is required")
		return
	}

	totals, err := h.payments.MonthlyTotalsForBill(auth.GroupID(r.Context()), name)
	if err != nil {
		h.logger.Error("monthly totals for bill", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load totals")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
