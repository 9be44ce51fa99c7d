package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mbecker/billminder/internal/backup"
	"github.com/mbecker/billminder/internal/config"
)

func TestBackupEndpointsRequireConfiguration(t *testing.T) {
	m := backup.NewManager(config.BackupConfig{}, "", nil, nil, testLogger())
	h := NewBackupHandler(m, testLogger())

	calls := []struct {
		name string
		fn   http.HandlerFunc
		req  *http.Request
	}{
		{"run", h.Run, httptest.NewRequest("POST", "/api/v2/backup/run", nil)},
		{"snapshots", h.Snapshots, httptest.NewRequest("GET", "/api/v2/backup/snapshots", nil)},
		{"download", h.Download, httptest.NewRequest("GET", "/api/v2/backup/download?key=backups/x", nil)},
		{"restore", h.Restore, httptest.NewRequest("POST", "/api/v2/backup/restore", strings.NewReader(`{"key":"backups/x"}`))},
	}
	for _, c := range calls {
		rec := httptest.NewRecorder()
		c.fn(rec, c.req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400 while unconfigured", c.name, rec.Code)
		}
	}

	// Status always answers, reporting the disabled state.
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/api/v2/backup/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", rec.Code)
	}
	var status backup.Status
	json.NewDecoder(rec.Body).Decode(&status)
	if status.State != backup.StateDisabled {
		t.Errorf("state = %q, want %q", status.State, backup.StateDisabled)
	}
}

func TestBackupDownloadRequiresKey(t *testing.T) {
	m := backup.NewManager(config.BackupConfig{
		Bucket: "b", AccessKey: "k", SecretKey: "s", Passphrase: "p",
	}, "", nil, nil, testLogger())
	h := NewBackupHandler(m, testLogger())

	rec := httptest.NewRecorder()
	h.Download(rec, httptest.NewRequest("GET", "/api/v2/backup/download", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without a key", rec.Code)
	}
}
