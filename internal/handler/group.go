package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

// defaultGroupID is seeded by the migrations and can never be deleted.
const defaultGroupID = 1

// GroupHandler serves the bill-group endpoints. The route names say
// "databases" because that is what the SPA calls tenant partitions.
type GroupHandler struct {
	groups *store.GroupStore
	users  *store.UserStore
	logger *slog.Logger
}

func NewGroupHandler(gs *store.GroupStore, us *store.UserStore, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: gs, users: us, logger: logger}
}

// List returns every group for admins, and only accessible groups for
// everyone else.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		groups []model.Group
		err    error
	)
	if auth.IsAdmin(r.Context()) {
		groups, err = h.groups.List()
	} else {
		groups, err = h.groups.ListForUser(auth.UserID(r.Context()))
	}
	if err != nil {
		h.logger.Error("list groups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list databases")
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=64"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Description string `json:"description" validate:"max=500"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Name
	}

	existing, err := h.groups.GetByName(req.Name)
	if err != nil {
		h.logger.Error("group lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create database")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "a database with this name already exists")
		return
	}

	group, err := h.groups.Create(req.Name, req.DisplayName, req.Description)
	if err != nil {
		h.logger.Error("create group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create database")
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

type updateGroupRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.groups.GetByID(id)
	if err != nil {
		h.logger.Error("get group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get database")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	var req updateGroupRequest
	if !decodeValid(w, r, &req) {
		return
	}

	group, err := h.groups.Update(id, req.DisplayName, req.Description)
	if err != nil {
		h.logger.Error("update group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update database")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Delete removes a group and, through cascades, everything in it.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if id == defaultGroupID {
		writeError(w, http.StatusBadRequest, "cannot delete the default database")
		return
	}
	existing, err := h.groups.GetByID(id)
	if err != nil {
		h.logger.Error("get group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get database")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	if err := h.groups.Delete(id); err != nil {
		h.logger.Error("delete group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete database")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAccess lists the users granted access to the group.
func (h *GroupHandler) GetAccess(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	userIDs, err := h.groups.ListUserIDs(id)
	if err != nil {
		h.logger.Error("list group users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list access")
		return
	}

	users := make([]model.User, 0, len(userIDs))
	for _, uid := range userIDs {
		user, err := h.users.GetByID(uid)
		if err != nil {
			h.logger.Error("get user", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list access")
			return
		}
		if user != nil {
			users = append(users, *user)
		}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *GroupHandler) accessParams(w http.ResponseWriter, r *http.Request) (groupID, userID int64, ok bool) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, 0, false
	}
	return groupID, userID, true
}

func (h *GroupHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := h.accessParams(w, r)
	if !ok {
		return
	}
	if err := h.groups.Grant(userID, groupID); err != nil {
		h.logger.Error("grant access", "error", err)
		writeError(w, http.StatusBadRequest, "failed to grant access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *GroupHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := h.accessParams(w, r)
	if !ok {
		return
	}
	if err := h.groups.Revoke(userID, groupID); err != nil {
		h.logger.Error("revoke access", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to revoke access")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
