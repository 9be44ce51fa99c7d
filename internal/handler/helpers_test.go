package handler

import (
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/database"
)

const testGroupID = int64(1) // seeded default group

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asUser installs an authenticated context on the request, the way the
// session middleware would.
func asUser(r *http.Request, userID int64, role string) *http.Request {
	return r.WithContext(auth.WithContext(r.Context(), auth.Context{
		UserID:    userID,
		GroupID:   testGroupID,
		Role:      role,
		SessionID: 1,
	}))
}
