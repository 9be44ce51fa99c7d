package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbecker/billminder/internal/billview"
	"github.com/mbecker/billminder/internal/dates"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

func TestSummaryEndpoint(t *testing.T) {
	db := setupDB(t)
	bills := store.NewBillStore(db)
	payments := store.NewPaymentStore(db)
	h := NewSummaryHandler(bills, payments, testLogger())

	// The handler summarizes relative to the wall clock, so seed with
	// today's month.
	today := dates.Format(time.Now())
	amount := 100.0
	b, err := bills.Create(testGroupID, store.BillParams{
		Name: "Rent", Amount: &amount, Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: today, Type: model.TypeExpense, Icon: "home",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := payments.Create(b.ID, 40, today, ""); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Summary(rec, asUser(httptest.NewRequest("GET", "/api/summary", nil), 1, model.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Summary  billview.MonthSummary   `json:"summary"`
		Upcoming billview.UpcomingCounts `json:"upcoming"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)

	if resp.Summary.Month != dates.MonthKey(time.Now()) {
		t.Errorf("month = %q, want current month", resp.Summary.Month)
	}
	if resp.Summary.Paid != 40 {
		t.Errorf("paid = %v, want 40", resp.Summary.Paid)
	}
	if resp.Summary.Remaining != 100 {
		t.Errorf("remaining = %v, want 100", resp.Summary.Remaining)
	}
	if resp.Upcoming.Next30Days < 1 {
		t.Errorf("upcoming = %+v, want the due-today bill counted", resp.Upcoming)
	}
}

func TestSummaryRejectsBadOffset(t *testing.T) {
	db := setupDB(t)
	h := NewSummaryHandler(store.NewBillStore(db), store.NewPaymentStore(db), testLogger())

	rec := httptest.NewRecorder()
	h.Summary(rec, asUser(httptest.NewRequest("GET", "/api/summary?offset=abc", nil), 1, model.RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSummaryOffsetShiftsMonth(t *testing.T) {
	db := setupDB(t)
	h := NewSummaryHandler(store.NewBillStore(db), store.NewPaymentStore(db), testLogger())

	rec := httptest.NewRecorder()
	h.Summary(rec, asUser(httptest.NewRequest("GET", "/api/summary?offset=-1", nil), 1, model.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Summary billview.MonthSummary `json:"summary"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)

	now := time.Now()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	if resp.Summary.Month != dates.MonthKey(prev) {
		t.Errorf("month = %q, want previous month", resp.Summary.Month)
	}
}
