package store

import (
	"testing"

	"github.com/mbecker/billminder/internal/database"
)

func setupSettingsTestDB(t *testing.T) *SettingsStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSettingsStore(db)
}

func TestSettingsGetUnset(t *testing.T) {
	ss := setupSettingsTestDB(t)

	v, err := ss.Get("missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "" {
		t.Errorf("value = %q, want empty", v)
	}
}

func TestSettingsSetAndOverwrite(t *testing.T) {
	ss := setupSettingsTestDB(t)

	if err := ss.Set("last_backup", "2024-03-01"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := ss.Set("last_backup", "2024-03-02"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, err := ss.Get("last_backup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "2024-03-02" {
		t.Errorf("value = %q, want 2024-03-02", v)
	}

	all, err := ss.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("settings count = %d, want 1", len(all))
	}
}
