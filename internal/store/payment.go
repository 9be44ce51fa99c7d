package store

import (
	"database/sql"
	"fmt"

	"github.com/mbecker/billminder/internal/model"
)

type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func scanPayment(scanner interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	err := scanner.Scan(&p.ID, &p.BillID, &p.Amount, &p.PaymentDate, &p.Notes, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const paymentCols = `id, bill_id, amount, payment_date, notes, created_at`

func (s *PaymentStore) Create(billID int64, amount float64, paymentDate, notes string) (*model.Payment, error) {
	result, err := s.db.Exec(
		`INSERT INTO payments (bill_id, amount, payment_date, notes) VALUES (?, ?, ?, ?)`,
		billID, amount, paymentDate, notes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	return scanPayment(row)
}

// GetByID looks a payment up through its parent bill so callers can
// only reach payments inside their own group.
func (s *PaymentStore) GetByID(groupID, id int64) (*model.Payment, error) {
	row := s.db.QueryRow(
		`SELECT p.id, p.bill_id, p.amount, p.payment_date, p.notes, p.created_at
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ? AND p.id = ?`,
		groupID, id,
	)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *PaymentStore) Update(id int64, amount float64, paymentDate, notes string) (*model.Payment, error) {
	_, err := s.db.Exec(
		`UPDATE payments SET amount = ?, payment_date = ?, notes = ? WHERE id = ?`,
		amount, paymentDate, notes, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	return scanPayment(row)
}

func (s *PaymentStore) ListByBill(billID int64) ([]model.Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentCols+` FROM payments WHERE bill_id = ? ORDER BY payment_date DESC, id DESC`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payments by bill: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// ListAll returns the group's full payment history, newest first, with
// the parent bill's name and icon joined in for display.
func (s *PaymentStore) ListAll(groupID int64) ([]model.Payment, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.bill_id, p.amount, p.payment_date, p.notes, p.created_at, b.name, b.icon
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ?
		 ORDER BY p.payment_date DESC, p.id DESC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		err := rows.Scan(
			&p.ID, &p.BillID, &p.Amount, &p.PaymentDate, &p.Notes, &p.CreatedAt,
			&p.BillName, &p.BillIcon,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListByBillName returns payment history across every bill carrying the
// name, so a bill deleted and recreated keeps its trend history.
func (s *PaymentStore) ListByBillName(groupID int64, name string) ([]model.Payment, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.bill_id, p.amount, p.payment_date, p.notes, p.created_at
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ? AND b.name = ?
		 ORDER BY p.payment_date DESC, p.id DESC`,
		groupID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list payments by bill name: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// MonthlyTotals sums the group's expense payments per calendar month,
// keyed by YYYY-MM. Deposits stay out so the totals line up with the
// expense-only remaining figure in the month summary. Months with no
// activity are absent; the view layer back-fills gaps.
func (s *PaymentStore) MonthlyTotals(groupID int64) (map[string]float64, error) {
	rows, err := s.db.Query(
		`SELECT substr(p.payment_date, 1, 7) AS month, SUM(p.amount)
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ? AND b.type = 'expense'
		 GROUP BY month`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly payment totals: %w", err)
	}
	defer rows.Close()
	return collectMonthTotals(rows)
}

// MonthlyTotalsForBill is MonthlyTotals restricted to bills with the
// given name. Name rather than ID, so history survives a bill being
// deleted and recreated.
func (s *PaymentStore) MonthlyTotalsForBill(groupID int64, name string) (map[string]float64, error) {
	rows, err := s.db.Query(
		`SELECT substr(p.payment_date, 1, 7) AS month, SUM(p.amount)
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ? AND b.name = ?
		 GROUP BY month`,
		groupID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly totals for bill: %w", err)
	}
	defer rows.Close()
	return collectMonthTotals(rows)
}

// ExistsOnDate reports whether the bill already has a payment recorded
// for the given date. The auto-pay sweep uses it for idempotence.
func (s *PaymentStore) ExistsOnDate(billID int64, date string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM payments WHERE bill_id = ? AND payment_date = ?`,
		billID, date,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check payment on date: %w", err)
	}
	return n > 0, nil
}

func (s *PaymentStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

func collectPayments(rows *sql.Rows) ([]model.Payment, error) {
	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func collectMonthTotals(rows *sql.Rows) (map[string]float64, error) {
	totals := make(map[string]float64)
	for rows.Next() {
		var month string
		var total float64
		if err := rows.Scan(&month, &total); err != nil {
			return nil, fmt.Errorf("scan month total: %w", err)
		}
		totals[month] = total
	}
	return totals, rows.Err()
}
