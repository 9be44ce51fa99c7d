package store

import (
	"database/sql"
	"fmt"

	"github.com/mbecker/billminder/internal/model"
)

type GroupStore struct {
	db *sql.DB
}

func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db}
}

func scanGroup(scanner interface{ Scan(...any) error }) (*model.Group, error) {
	var g model.Group
	err := scanner.Scan(&g.ID, &g.Name, &g.DisplayName, &g.Description, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

const groupCols = `id, name, display_name, description, created_at, updated_at`

func (s *GroupStore) Create(name, displayName, description string) (*model.Group, error) {
	result, err := s.db.Exec(
		`INSERT INTO groups (name, display_name, description) VALUES (?, ?, ?)`,
		name, displayName, description,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *GroupStore) GetByID(id int64) (*model.Group, error) {
	row := s.db.QueryRow(`SELECT `+groupCols+` FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *GroupStore) GetByName(name string) (*model.Group, error) {
	row := s.db.QueryRow(`SELECT `+groupCols+` FROM groups WHERE name = ?`, name)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	return g, nil
}

func (s *GroupStore) List() ([]model.Group, error) {
	rows, err := s.db.Query(`SELECT ` + groupCols + ` FROM groups ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *GroupStore) Update(id int64, displayName, description string) (*model.Group, error) {
	_, err := s.db.Exec(
		`UPDATE groups SET display_name = ?, description = ?, updated_at = datetime('now') WHERE id = ?`,
		displayName, description, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return s.GetByID(id)
}

func (s *GroupStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// --- Access grants ---

func (s *GroupStore) Grant(userID, groupID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO group_access (user_id, group_id) VALUES (?, ?)`,
		userID, groupID,
	)
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	return nil
}

func (s *GroupStore) Revoke(userID, groupID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM group_access WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	)
	if err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}
	return nil
}

// HasAccess reports whether the user may read and write the group.
// Admins bypass this check in the middleware, not here.
func (s *GroupStore) HasAccess(userID, groupID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM group_access WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return n > 0, nil
}

func (s *GroupStore) ListForUser(userID int64) ([]model.Group, error) {
	rows, err := s.db.Query(
		`SELECT g.id, g.name, g.display_name, g.description, g.created_at, g.updated_at
		 FROM groups g
		 JOIN group_access ga ON g.id = ga.group_id
		 WHERE ga.user_id = ?
		 ORDER BY g.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups for user: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *GroupStore) ListUserIDs(groupID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM group_access WHERE group_id = ? ORDER BY user_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetForUser replaces the user's access grants with exactly the given
// groups in one transaction, so a failed update never leaves the user
// with partial access.
func (s *GroupStore) SetForUser(userID int64, groupIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM group_access WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear access: %w", err)
	}
	for _, gid := range groupIDs {
		if _, err := tx.Exec(
			`INSERT INTO group_access (user_id, group_id) VALUES (?, ?)`,
			userID, gid,
		); err != nil {
			return fmt.Errorf("grant access to group %d: %w", gid, err)
		}
	}
	return tx.Commit()
}
