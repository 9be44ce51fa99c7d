package store

import (
	"database/sql"
	"fmt"

	"github.com/mbecker/billminder/internal/model"
)

type BillStore struct {
	db *sql.DB
}

func NewBillStore(db *sql.DB) *BillStore {
	return &BillStore{db: db}
}

// BillParams carries the writable bill fields. The row is too wide for
// positional args.
type BillParams struct {
	Name            string
	Amount          *float64
	Varies          bool
	Frequency       string
	FrequencyType   string
	FrequencyConfig string
	NextDue         string
	Type            string
	Account         string
	Category        string
	Notes           string
	Icon            string
	AutoPay         bool
}

func scanBill(scanner interface{ Scan(...any) error }) (*model.Bill, error) {
	var b model.Bill
	var amount sql.NullFloat64

	err := scanner.Scan(
		&b.ID, &b.GroupID, &b.Name, &amount, &b.Varies,
		&b.Frequency, &b.FrequencyType, &b.FrequencyConfig, &b.NextDue,
		&b.Type, &b.Account, &b.Category, &b.Notes, &b.Icon,
		&b.AutoPay, &b.Paid, &b.Archived, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if amount.Valid {
		b.Amount = &amount.Float64
	}
	return &b, nil
}

const billCols = `id, group_id, name, amount, varies, frequency, frequency_type, frequency_config, next_due, type, account, category, notes, icon, auto_pay, paid, archived, created_at, updated_at`

func (s *BillStore) Create(groupID int64, p BillParams) (*model.Bill, error) {
	result, err := s.db.Exec(
		`INSERT INTO bills (group_id, name, amount, varies, frequency, frequency_type, frequency_config, next_due, type, account, category, notes, icon, auto_pay)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		groupID, p.Name, nullFloat(p.Amount), p.Varies,
		p.Frequency, p.FrequencyType, p.FrequencyConfig, p.NextDue,
		p.Type, p.Account, p.Category, p.Notes, p.Icon, p.AutoPay,
	)
	if err != nil {
		return nil, fmt.Errorf("insert bill: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(groupID, id)
}

// GetByID is group-scoped so one tenant can never address another
// tenant's bill by guessing IDs.
func (s *BillStore) GetByID(groupID, id int64) (*model.Bill, error) {
	row := s.db.QueryRow(`SELECT `+billCols+` FROM bills WHERE id = ? AND group_id = ?`, id, groupID)
	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

// List returns the group's bills ordered by due date. Archived bills are
// included; filtering happens in the view layer, which needs them for
// search.
func (s *BillStore) List(groupID int64) ([]model.Bill, error) {
	rows, err := s.db.Query(
		`SELECT `+billCols+` FROM bills WHERE group_id = ? ORDER BY next_due ASC, name ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var bills []model.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}

// ListDue returns non-archived bills due on or before the given
// YYYY-MM-DD date, across all groups. Used by the auto-pay sweep.
func (s *BillStore) ListDue(date string) ([]model.Bill, error) {
	rows, err := s.db.Query(
		`SELECT `+billCols+` FROM bills WHERE archived = 0 AND next_due <= ? ORDER BY next_due ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("list due bills: %w", err)
	}
	defer rows.Close()

	var bills []model.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}

func (s *BillStore) Update(groupID, id int64, p BillParams) (*model.Bill, error) {
	_, err := s.db.Exec(
		`UPDATE bills SET name = ?, amount = ?, varies = ?, frequency = ?, frequency_type = ?, frequency_config = ?, next_due = ?, type = ?, account = ?, category = ?, notes = ?, icon = ?, auto_pay = ?, updated_at = datetime('now')
		 WHERE id = ? AND group_id = ?`,
		p.Name, nullFloat(p.Amount), p.Varies,
		p.Frequency, p.FrequencyType, p.FrequencyConfig, p.NextDue,
		p.Type, p.Account, p.Category, p.Notes, p.Icon, p.AutoPay,
		id, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("update bill: %w", err)
	}
	return s.GetByID(groupID, id)
}

// Advance rolls the bill to its next due date after a payment.
func (s *BillStore) Advance(id int64, nextDue string) error {
	_, err := s.db.Exec(
		`UPDATE bills SET next_due = ?, paid = 1, updated_at = datetime('now') WHERE id = ?`,
		nextDue, id,
	)
	if err != nil {
		return fmt.Errorf("advance bill: %w", err)
	}
	return nil
}

func (s *BillStore) SetArchived(groupID, id int64, archived bool) error {
	_, err := s.db.Exec(
		`UPDATE bills SET archived = ?, updated_at = datetime('now') WHERE id = ? AND group_id = ?`,
		archived, id, groupID,
	)
	if err != nil {
		return fmt.Errorf("set bill archived: %w", err)
	}
	return nil
}

// Delete removes the bill and, via cascade, its payment history.
func (s *BillStore) Delete(groupID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM bills WHERE id = ? AND group_id = ?`, id, groupID)
	if err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}
	return nil
}

// AvgAmounts computes each bill's rolling payment average for the group.
// Only bills with at least one recorded payment appear in the map.
func (s *BillStore) AvgAmounts(groupID int64) (map[int64]float64, error) {
	rows, err := s.db.Query(
		`SELECT p.bill_id, AVG(p.amount)
		 FROM payments p
		 JOIN bills b ON b.id = p.bill_id
		 WHERE b.group_id = ?
		 GROUP BY p.bill_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("bill averages: %w", err)
	}
	defer rows.Close()

	avgs := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var avg float64
		if err := rows.Scan(&id, &avg); err != nil {
			return nil, fmt.Errorf("scan average: %w", err)
		}
		avgs[id] = avg
	}
	return avgs, rows.Err()
}

// Accounts returns the distinct non-empty account labels in use by the
// group, for the client's account filter dropdown.
func (s *BillStore) Accounts(groupID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT account FROM bills WHERE group_id = ? AND account != '' ORDER BY account ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
