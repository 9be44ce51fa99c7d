package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

func setupBillHandler(t *testing.T) (*BillHandler, *store.BillStore, *store.PaymentStore, *sql.DB) {
	t.Helper()
	db := setupDB(t)
	bills := store.NewBillStore(db)
	payments := store.NewPaymentStore(db)
	h := NewBillHandler(bills, payments, nil, testLogger())
	return h, bills, payments, db
}

func billBody(name, nextDue string, amount float64) string {
	b, _ := json.Marshal(map[string]any{
		"name":      name,
		"amount":    amount,
		"frequency": "monthly",
		"next_due":  nextDue,
	})
	return string(b)
}

func TestCreateBill(t *testing.T) {
	h, _, _, _ := setupBillHandler(t)

	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("POST", "/bills", strings.NewReader(billBody("Electric", "2024-03-10", 75))), 1, model.RoleUser)
	h.Create(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var bill model.Bill
	json.NewDecoder(rec.Body).Decode(&bill)
	if bill.Name != "Electric" || bill.NextDue != "2024-03-10" {
		t.Errorf("bill = %+v", bill)
	}
	if bill.Type != model.TypeExpense {
		t.Errorf("type = %q, want default expense", bill.Type)
	}
	if bill.FrequencyType != "simple" {
		t.Errorf("frequency_type = %q, want default simple", bill.FrequencyType)
	}
}

func TestCreateBillRejectsInvalidRecurrence(t *testing.T) {
	h, _, _, _ := setupBillHandler(t)

	cases := []string{
		// specific_dates on a weekly bill
		`{"name":"Bad","frequency":"weekly","frequency_type":"specific_dates","frequency_config":{"dates":[1]},"next_due":"2024-03-10"}`,
		// day of month out of range
		`{"name":"Bad","frequency":"monthly","frequency_type":"specific_dates","frequency_config":{"dates":[32]},"next_due":"2024-03-10"}`,
		// malformed due date
		`{"name":"Bad","frequency":"monthly","next_due":"03/10/2024"}`,
		// unknown frequency
		`{"name":"Bad","frequency":"fortnightly","next_due":"2024-03-10"}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		h.Create(rec, asUser(httptest.NewRequest("POST", "/bills", strings.NewReader(body)), 1, model.RoleUser))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400 for %s", rec.Code, body)
		}
	}
}

func TestListBillsFilters(t *testing.T) {
	h, bills, _, _ := setupBillHandler(t)

	mk := func(name, nextDue string, archived bool) {
		b, err := bills.Create(testGroupID, store.BillParams{
			Name: name, Frequency: "monthly", FrequencyType: "simple",
			FrequencyConfig: "{}", NextDue: nextDue, Type: model.TypeExpense, Icon: "payment",
		})
		if err != nil {
			t.Fatalf("create bill: %v", err)
		}
		if archived {
			if err := bills.SetArchived(testGroupID, b.ID, true); err != nil {
				t.Fatalf("archive: %v", err)
			}
		}
	}
	mk("Electric", "2024-03-10", false)
	mk("Water", "2024-03-15", false)
	mk("Old Gym", "2024-01-01", true)

	list := func(query string) []model.Bill {
		rec := httptest.NewRecorder()
		h.List(rec, asUser(httptest.NewRequest("GET", "/bills"+query, nil), 1, model.RoleUser))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var got []model.Bill
		json.NewDecoder(rec.Body).Decode(&got)
		return got
	}

	if got := list(""); len(got) != 2 {
		t.Errorf("unfiltered = %d bills, want 2 (archived hidden)", len(got))
	}
	if got := list("?search=gym"); len(got) != 1 || got[0].Name != "Old Gym" {
		t.Errorf("search should reach archived bills, got %v", got)
	}
	if got := list("?search=elec"); len(got) != 1 || got[0].Name != "Electric" {
		t.Errorf("search = %v", got)
	}
}

func TestPayBillAdvancesDueDate(t *testing.T) {
	h, bills, payments, _ := setupBillHandler(t)

	amount := 75.0
	b, err := bills.Create(testGroupID, store.BillParams{
		Name: "Electric", Amount: &amount, Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("POST", "/bills/1/pay", strings.NewReader(`{"payment_date":"2024-03-10"}`)), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Pay(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	history, err := payments.ListByBill(b.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(history) != 1 || history[0].Amount != 75 {
		t.Fatalf("payments = %v, want one of 75 (bill amount used by default)", history)
	}

	updated, err := bills.GetByID(testGroupID, b.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if updated.NextDue != "2024-04-10" {
		t.Errorf("next_due = %q, want 2024-04-10", updated.NextDue)
	}
	if !updated.Paid {
		t.Error("bill not marked paid")
	}
}

func TestPayBillWithoutAdvance(t *testing.T) {
	h, bills, _, _ := setupBillHandler(t)

	amount := 75.0
	b, err := bills.Create(testGroupID, store.BillParams{
		Name: "Electric", Amount: &amount, Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("POST", "/bills/1/pay", strings.NewReader(`{"advance_due":false}`)), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Pay(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	updated, _ := bills.GetByID(testGroupID, b.ID)
	if updated.NextDue != "2024-03-10" {
		t.Errorf("next_due = %q, want unchanged", updated.NextDue)
	}
}

func TestPayVariableBillRequiresHistoryOrAmount(t *testing.T) {
	h, bills, payments, _ := setupBillHandler(t)

	b, err := bills.Create(testGroupID, store.BillParams{
		Name: "Water", Varies: true, Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	// No amount, no history: rejected.
	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("POST", "/bills/1/pay", strings.NewReader(`{}`)), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Pay(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 with no known amount", rec.Code)
	}

	// With history the rolling average fills in.
	for _, amt := range []float64{40, 60} {
		if _, err := payments.Create(b.ID, amt, "2024-02-01", ""); err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}
	rec = httptest.NewRecorder()
	r = asUser(httptest.NewRequest("POST", "/bills/1/pay", strings.NewReader(`{"payment_date":"2024-03-10"}`)), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Pay(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Payment model.Payment `json:"payment"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Payment.Amount != 50 {
		t.Errorf("amount = %v, want rolling average 50", resp.Payment.Amount)
	}
}

func TestPayBillDeletedMidRequest(t *testing.T) {
	h, bills, _, db := setupBillHandler(t)

	amount := 75.0
	if _, err := bills.Create(testGroupID, store.BillParams{
		Name: "Electric", Amount: &amount, Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	}); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	// Emulate a concurrent permanent delete landing between the due-date
	// advance and the re-read.
	if _, err := db.Exec(`CREATE TRIGGER drop_bill_on_advance AFTER UPDATE ON bills
		BEGIN DELETE FROM bills WHERE id = OLD.id; END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("POST", "/bills/1/pay", strings.NewReader(`{"payment_date":"2024-03-10"}`)), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Pay(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when the bill vanished mid-request", rec.Code)
	}
}

func TestBillTenantScoping(t *testing.T) {
	h, bills, _, db := setupBillHandler(t)

	other, err := store.NewGroupStore(db).Create("other", "Other", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	foreign, err := bills.Create(other.ID, store.BillParams{
		Name: "Foreign", Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	// Caller is in group 1; the other group's bill is invisible.
	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("DELETE", "/bills/1/permanent", nil), 1, model.RoleUser)
	r.SetPathValue("id", jsonInt(foreign.ID))
	h.PermanentDelete(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant delete status = %d, want 404", rec.Code)
	}
}

func TestArchiveAndUnarchive(t *testing.T) {
	h, bills, _, _ := setupBillHandler(t)

	b, err := bills.Create(testGroupID, store.BillParams{
		Name: "Gym", Frequency: "monthly", FrequencyType: "simple",
		FrequencyConfig: "{}", NextDue: "2024-03-10", Type: model.TypeExpense, Icon: "payment",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	rec := httptest.NewRecorder()
	r := asUser(httptest.NewRequest("DELETE", "/bills/1", nil), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Archive(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}
	got, _ := bills.GetByID(testGroupID, b.ID)
	if !got.Archived {
		t.Fatal("bill not archived")
	}

	rec = httptest.NewRecorder()
	r = asUser(httptest.NewRequest("POST", "/bills/1/unarchive", nil), 1, model.RoleUser)
	r.SetPathValue("id", "1")
	h.Unarchive(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("unarchive status = %d", rec.Code)
	}
	got, _ = bills.GetByID(testGroupID, b.ID)
	if got.Archived {
		t.Error("bill still archived")
	}
}
