package handler

import (
	"log/slog"
	"net/http"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/email"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

// UserHandler serves the admin user-management endpoints.
type UserHandler struct {
	users       *store.UserStore
	groups      *store.GroupStore
	invites     *store.InviteStore
	sessions    *store.SessionStore
	emailClient *email.Client
	logger      *slog.Logger
}

func NewUserHandler(
	us *store.UserStore,
	gs *store.GroupStore,
	is *store.InviteStore,
	ss *store.SessionStore,
	ec *email.Client,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:       us,
		groups:      gs,
		invites:     is,
		sessions:    ss,
		emailClient: ec,
		logger:      logger,
	}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List()
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// Create adds a user. Admin-created accounts must change their password
// on first login.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeValid(w, r, &req) {
		return
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.users.GetByUsername(req.Username)
	if err != nil {
		h.logger.Error("user lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	user, err := h.users.Create(req.Username, hash, req.Role, req.Email, true)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if id == auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	user, err := h.users.GetByID(id)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if user.Role == model.RoleAdmin {
		admins, err := h.users.CountAdmins()
		if err != nil {
			h.logger.Error("count admins", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete user")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusBadRequest, "cannot delete the last admin")
			return
		}
	}

	if err := h.sessions.DeleteByUserID(id); err != nil {
		h.logger.Error("delete sessions", "error", err)
	}
	if err := h.users.Delete(id); err != nil {
		h.logger.Error("delete user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDatabases lists the bill groups the user can access.
func (h *UserHandler) GetDatabases(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	user, err := h.users.GetByID(id)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	groups, err := h.groups.ListForUser(id)
	if err != nil {
		h.logger.Error("list groups for user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list databases")
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type putDatabasesRequest struct {
	Add    []int64 `json:"add"`
	Remove []int64 `json:"remove"`
}

// PutDatabases applies grant additions and removals as one atomic
// replacement, so a failed change leaves the previous grants intact.
func (h *UserHandler) PutDatabases(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	user, err := h.users.GetByID(id)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req putDatabasesRequest
	if !decodeValid(w, r, &req) {
		return
	}

	current, err := h.groups.ListForUser(id)
	if err != nil {
		h.logger.Error("list groups for user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update databases")
		return
	}

	want := make(map[int64]bool, len(current)+len(req.Add))
	for _, g := range current {
		want[g.ID] = true
	}
	for _, gid := range req.Add {
		want[gid] = true
	}
	for _, gid := range req.Remove {
		delete(want, gid)
	}

	groupIDs := make([]int64, 0, len(want))
	for gid := range want {
		groupIDs = append(groupIDs, gid)
	}
	if err := h.groups.SetForUser(id, groupIDs); err != nil {
		h.logger.Error("set groups for user", "error", err)
		writeError(w, http.StatusBadRequest, "failed to update databases")
		return
	}

	updated, err := h.groups.ListForUser(id)
	if err != nil {
		h.logger.Error("list groups for user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update databases")
		return
	}
	if updated == nil {
		updated = []model.Group{}
	}
	writeJSON(w, http.StatusOK, updated)
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin user"`
}

// Invite issues a single-use registration token and mails it when email
// is configured. The token is returned either way so an admin can hand
// it over out of band.
func (h *UserHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decodeValid(w, r, &req) {
		return
	}

	invite, err := h.invites.Create(req.Email, req.Role)
	if err != nil {
		h.logger.Error("create invite", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	if h.emailClient.Configured() {
		if err := h.emailClient.SendInvite(r.Context(), req.Email, invite.Token); err != nil {
			h.logger.Error("send invite email", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (h *UserHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.invites.List()
	if err != nil {
		h.logger.Error("list invites", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list invites")
		return
	}
	if invites == nil {
		invites = []model.Invite{}
	}
	writeJSON(w, http.StatusOK, invites)
}

func (h *UserHandler) DeleteInvite(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.invites.Delete(id); err != nil {
		h.logger.Error("delete invite", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete invite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
