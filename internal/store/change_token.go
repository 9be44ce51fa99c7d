package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mbecker/billminder/internal/model"
)

// ChangeTokenTTL bounds how long a forced password change can be pending
// before the user must log in again.
const ChangeTokenTTL = 15 * time.Minute

type ChangeTokenStore struct {
	db *sql.DB
}

func NewChangeTokenStore(db *sql.DB) *ChangeTokenStore {
	return &ChangeTokenStore{db: db}
}

func scanChangeToken(scanner interface{ Scan(...any) error }) (*model.ChangeToken, error) {
	var ct model.ChangeToken
	var usedAt sql.NullTime

	err := scanner.Scan(&ct.ID, &ct.Token, &ct.UserID, &ct.ExpiresAt, &usedAt, &ct.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		ct.UsedAt = &usedAt.Time
	}
	return &ct, nil
}

const changeTokenCols = `id, token, user_id, expires_at, used_at, created_at`

// Create issues a single-use token that authorizes exactly one password
// change for the user. Previous pending tokens are invalidated.
func (s *ChangeTokenStore) Create(userID int64) (*model.ChangeToken, error) {
	_, err := s.db.Exec(
		`UPDATE change_tokens SET used_at = datetime('now') WHERE user_id = ? AND used_at IS NULL`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous change tokens: %w", err)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := time.Now().UTC().Add(ChangeTokenTTL)

	result, err := s.db.Exec(
		`INSERT INTO change_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert change token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+changeTokenCols+` FROM change_tokens WHERE id = ?`, id)
	return scanChangeToken(row)
}

// GetByToken returns the token if it is still valid and unused.
func (s *ChangeTokenStore) GetByToken(token string) (*model.ChangeToken, error) {
	row := s.db.QueryRow(
		`SELECT `+changeTokenCols+` FROM change_tokens WHERE token = ? AND expires_at > datetime('now') AND used_at IS NULL`,
		token,
	)
	ct, err := scanChangeToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change token: %w", err)
	}
	return ct, nil
}

func (s *ChangeTokenStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE change_tokens SET used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark change token used: %w", err)
	}
	return nil
}

func (s *ChangeTokenStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM change_tokens WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired change tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
