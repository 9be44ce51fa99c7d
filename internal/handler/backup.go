package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/mbecker/billminder/internal/backup"
)

// BackupHandler exposes the snapshot manager to admins.
type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "backups are not configured")
		return
	}
	key, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *BackupHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "backups are not configured")
		return
	}
	snapshots, err := h.manager.List(r.Context())
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// Download streams an encrypted snapshot to the admin. The object key
// comes as a query parameter since it contains slashes.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "backups are not configured")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	body, size, err := h.manager.Download(r.Context(), key)
	if err != nil {
		h.logger.Error("download backup", "key", key, "error", err)
		writeError(w, http.StatusBadRequest, "download failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("stream backup", "key", key, "error", err)
	}
}

type restoreRequest struct {
	Key string `json:"key" validate:"required"`
}

// Restore replaces the live database with a snapshot. On success the
// process exits shortly after responding, so the supervisor restarts it
// on the restored data.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "backups are not configured")
		return
	}
	var req restoreRequest
	if !decodeValid(w, r, &req) {
		return
	}

	if err := h.manager.Restore(r.Context(), req.Key); err != nil {
		h.logger.Error("restore backup", "key", req.Key, "error", err)
		writeError(w, http.StatusBadRequest, "restore failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "restarting": true})
}
