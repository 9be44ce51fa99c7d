package model

import "time"

type Payment struct {
	ID          int64     `json:"id"`
	BillID      int64     `json:"bill_id"`
	Amount      float64   `json:"amount"`
	PaymentDate string    `json:"payment_date"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// BillName and BillIcon are populated by history queries that join
	// the parent bill.
	BillName string `json:"bill_name,omitempty"`
	BillIcon string `json:"bill_icon,omitempty"`
}
