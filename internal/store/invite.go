package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbecker/billminder/internal/model"
)

// InviteTTL is how long an invite link stays redeemable.
const InviteTTL = 7 * 24 * time.Hour

type InviteStore struct {
	db *sql.DB
}

func NewInviteStore(db *sql.DB) *InviteStore {
	return &InviteStore{db: db}
}

func scanInvite(scanner interface{ Scan(...any) error }) (*model.Invite, error) {
	var inv model.Invite
	var usedAt sql.NullTime

	err := scanner.Scan(&inv.ID, &inv.Token, &inv.Email, &inv.Role, &inv.ExpiresAt, &usedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		inv.UsedAt = &usedAt.Time
	}
	return &inv, nil
}

const inviteCols = `id, token, email, role, expires_at, used_at, created_at`

// Create issues a new invite token for the email. Any previous pending
// invite for the same address is invalidated first.
func (s *InviteStore) Create(email, role string) (*model.Invite, error) {
	_, err := s.db.Exec(
		`UPDATE invites SET used_at = datetime('now') WHERE email = ? AND used_at IS NULL AND expires_at > datetime('now')`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous invites: %w", err)
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(InviteTTL)

	result, err := s.db.Exec(
		`INSERT INTO invites (token, email, role, expires_at) VALUES (?, ?, ?, ?)`,
		token, email, role, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+inviteCols+` FROM invites WHERE id = ?`, id)
	return scanInvite(row)
}

// GetByToken returns the invite matching the token, or nil if not
// found, expired, or already used.
func (s *InviteStore) GetByToken(token string) (*model.Invite, error) {
	row := s.db.QueryRow(
		`SELECT `+inviteCols+` FROM invites WHERE token = ? AND expires_at > datetime('now') AND used_at IS NULL`,
		token,
	)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invite by token: %w", err)
	}
	return inv, nil
}

func (s *InviteStore) List() ([]model.Invite, error) {
	rows, err := s.db.Query(`SELECT ` + inviteCols + ` FROM invites ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var invites []model.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

func (s *InviteStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE invites SET used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark invite used: %w", err)
	}
	return nil
}

func (s *InviteStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM invites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

func (s *InviteStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM invites WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
