package store

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mbecker/billminder/internal/model"
)

// RefreshTokenTTL is the lifetime of a mobile refresh token.
const RefreshTokenTTL = 30 * 24 * time.Hour

type RefreshTokenStore struct {
	db *sql.DB
}

func NewRefreshTokenStore(db *sql.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func scanRefreshToken(scanner interface{ Scan(...any) error }) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := scanner.Scan(
		&rt.ID, &rt.UserID, &rt.TokenHash, &rt.DeviceInfo,
		&rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

const refreshTokenCols = `id, user_id, token_hash, device_info, expires_at, revoked, created_at`

// HashToken derives the stored form of an opaque refresh token. Only the
// hash ever touches the database, so a leaked table cannot be replayed.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create mints a new opaque refresh token for the user and stores its
// hash. The plaintext token is returned exactly once.
func (s *RefreshTokenStore) Create(userID int64, deviceInfo string) (string, *model.RefreshToken, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := time.Now().UTC().Add(RefreshTokenTTL)

	result, err := s.db.Exec(
		`INSERT INTO refresh_tokens (user_id, token_hash, device_info, expires_at) VALUES (?, ?, ?, ?)`,
		userID, HashToken(token), deviceInfo, expiresAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert refresh token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+refreshTokenCols+` FROM refresh_tokens WHERE id = ?`, id)
	rt, err := scanRefreshToken(row)
	if err != nil {
		return "", nil, fmt.Errorf("get refresh token: %w", err)
	}
	return token, rt, nil
}

// GetByToken returns the live token record matching the plaintext token,
// or nil if unknown, expired, or revoked.
func (s *RefreshTokenStore) GetByToken(token string) (*model.RefreshToken, error) {
	row := s.db.QueryRow(
		`SELECT `+refreshTokenCols+` FROM refresh_tokens WHERE token_hash = ? AND expires_at > datetime('now') AND revoked = 0`,
		HashToken(token),
	)
	rt, err := scanRefreshToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return rt, nil
}

func (s *RefreshTokenStore) Revoke(id int64) error {
	_, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) RevokeAllForUser(userID int64) error {
	_, err := s.db.Exec(`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens for user: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE expires_at <= datetime('now') OR revoked = 1`)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
