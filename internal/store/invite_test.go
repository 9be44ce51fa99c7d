package store

import (
	"testing"

	"github.com/mbecker/billminder/internal/database"
	"github.com/mbecker/billminder/internal/model"
)

func setupInviteTestDB(t *testing.T) *InviteStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewInviteStore(db)
}

func TestInviteCreate(t *testing.T) {
	is := setupInviteTestDB(t)

	inv, err := is.Create("alice@example.com", model.RoleUser)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if inv.Token == "" {
		t.Error("expected non-empty token")
	}
	if inv.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", inv.Email)
	}
	if inv.UsedAt != nil {
		t.Error("new invite should be unused")
	}
}

func TestInviteCreateInvalidatesPrevious(t *testing.T) {
	is := setupInviteTestDB(t)

	first, err := is.Create("alice@example.com", model.RoleUser)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := is.Create("alice@example.com", model.RoleUser); err != nil {
		t.Fatalf("create second invite: %v", err)
	}

	got, err := is.GetByToken(first.Token)
	if err != nil {
		t.Fatalf("get first invite: %v", err)
	}
	if got != nil {
		t.Error("first invite should have been invalidated")
	}
}

func TestInviteGetByTokenAfterUse(t *testing.T) {
	is := setupInviteTestDB(t)

	inv, err := is.Create("alice@example.com", model.RoleUser)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := is.MarkUsed(inv.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	got, err := is.GetByToken(inv.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got != nil {
		t.Error("used invite should not resolve")
	}
}
