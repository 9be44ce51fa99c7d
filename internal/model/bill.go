package model

import "time"

// Transaction types.
const (
	TypeExpense = "expense"
	TypeDeposit = "deposit"
)

// Bill is a recurring expense or deposit. Amount is nil when the bill
// varies; variable bills carry a server-computed rolling average instead.
// Due dates are plain YYYY-MM-DD calendar dates with no time component.
type Bill struct {
	ID              int64     `json:"id"`
	GroupID         int64     `json:"group_id"`
	Name            string    `json:"name"`
	Amount          *float64  `json:"amount"`
	Varies          bool      `json:"varies"`
	Frequency       string    `json:"frequency"`
	FrequencyType   string    `json:"frequency_type"`
	FrequencyConfig string    `json:"frequency_config"`
	NextDue         string    `json:"next_due"`
	Type            string    `json:"type"`
	Account         string    `json:"account,omitempty"`
	Category        string    `json:"category,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	Icon            string    `json:"icon"`
	AutoPay         bool      `json:"auto_payment"`
	Paid            bool      `json:"paid"`
	Archived        bool      `json:"archived"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// AvgAmount is the rolling average of recorded payments, populated
	// on API responses for variable bills only.
	AvgAmount *float64 `json:"avg_amount,omitempty"`
}

// ExpectedAmount returns the amount a payment is expected to be: the
// fixed amount, or the rolling average for variable bills. ok is false
// when neither is known.
func (b Bill) ExpectedAmount() (amount float64, ok bool) {
	if !b.Varies && b.Amount != nil {
		return *b.Amount, true
	}
	if b.Varies && b.AvgAmount != nil && *b.AvgAmount > 0 {
		return *b.AvgAmount, true
	}
	return 0, false
}
