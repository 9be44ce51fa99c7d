package model

import "time"

// Roles a user can hold. Admins manage users, invites, and bill groups.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID                     int64     `json:"id"`
	Username               string    `json:"username"`
	PasswordHash           string    `json:"-"`
	Role                   string    `json:"role"`
	Email                  string    `json:"email,omitempty"`
	PasswordChangeRequired bool      `json:"password_change_required"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type Invite struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
