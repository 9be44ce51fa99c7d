package model

import "time"

// Group is a bill group: a tenant partition owning bills and payments.
// The REST API calls these "databases" for compatibility with the
// original client.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
