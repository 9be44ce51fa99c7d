package handler

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/email"
	"github.com/mbecker/billminder/internal/middleware"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

type AuthHandler struct {
	users        *store.UserStore
	sessions     *store.SessionStore
	groups       *store.GroupStore
	changeTokens *store.ChangeTokenStore
	invites      *store.InviteStore
	emailClient  *email.Client
	cfg          *config.Config
	logger       *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	gs *store.GroupStore,
	cts *store.ChangeTokenStore,
	is *store.InviteStore,
	ec *email.Client,
	cfg *config.Config,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:        us,
		sessions:     ss,
		groups:       gs,
		changeTokens: cts,
		invites:      is,
		emailClient:  ec,
		cfg:          cfg,
		logger:       logger,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(store.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// activeGroup picks the session's initial group: the user's first
// accessible group, falling back to the default group. A user with no
// grants can log in but the access middleware blocks tenant data.
func (h *AuthHandler) activeGroup(userID int64) int64 {
	accessible, err := h.groups.ListForUser(userID)
	if err != nil || len(accessible) == 0 {
		return 1
	}
	return accessible[0].ID
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValid(w, r, &req) {
		return
	}

	user, err := h.users.GetByUsername(req.Username)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, err := h.sessions.Create(user.ID, h.activeGroup(user.ID))
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	h.setSessionCookie(w, r, sess.Token)

	resp := map[string]any{
		"username":                 user.Username,
		"role":                     user.Role,
		"password_change_required": user.PasswordChangeRequired,
	}
	if user.PasswordChangeRequired {
		ct, err := h.changeTokens.Create(user.ID)
		if err != nil {
			h.logger.Error("create change token", "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}
		resp["change_token"] = ct.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

type changePasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ChangePassword completes a forced password change. The single-use
// token was issued at login; on success every existing session is
// replaced by a fresh one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ct, err := h.changeTokens.GetByToken(req.Token)
	if err != nil {
		h.logger.Error("change token lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	if ct == nil {
		writeError(w, http.StatusBadRequest, "invalid or expired change token")
		return
	}

	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	if err := h.users.UpdatePassword(ct.UserID, hash, false); err != nil {
		h.logger.Error("update password", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	if err := h.changeTokens.MarkUsed(ct.ID); err != nil {
		h.logger.Error("mark change token used", "error", err)
	}

	// Rotate: drop every session issued before the change.
	if err := h.sessions.DeleteByUserID(ct.UserID); err != nil {
		h.logger.Error("delete sessions", "error", err)
	}
	sess, err := h.sessions.Create(ct.UserID, h.activeGroup(ct.UserID))
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	h.setSessionCookie(w, r, sess.Token)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Logout is best-effort: an invalid session still clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessions.GetByToken(cookie.Value); err == nil && sess != nil {
			h.sessions.Delete(sess.ID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me is the SPA's who-am-I probe; the auth middleware turns a missing or
// expired session into the 401 the client watches for.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.users.GetByID(ac.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	resp := map[string]any{
		"username":                 user.Username,
		"role":                     user.Role,
		"password_change_required": user.PasswordChangeRequired,
	}
	if group, err := h.groups.GetByID(ac.GroupID); err == nil && group != nil {
		resp["group"] = group
	}
	writeJSON(w, http.StatusOK, resp)
}

type selectDatabaseRequest struct {
	ID int64 `json:"id" validate:"required"`
}

// SelectDatabase switches the session's active group. Concurrent
// switches are last-response-wins.
func (h *AuthHandler) SelectDatabase(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req selectDatabaseRequest
	if !decodeValid(w, r, &req) {
		return
	}

	group, err := h.groups.GetByID(req.ID)
	if err != nil {
		h.logger.Error("group lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to select database")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	if ac.Role != model.RoleAdmin {
		allowed, err := h.groups.HasAccess(ac.UserID, req.ID)
		if err != nil {
			h.logger.Error("access check", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to select database")
			return
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "no access to this database")
			return
		}
	}

	if err := h.sessions.UpdateGroup(ac.SessionID, req.ID); err != nil {
		h.logger.Error("update session group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to select database")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPassword resets the account to a temporary password and mails
// it. The response never reveals whether the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}

	// Same response either way.
	defer writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	if !h.emailClient.Configured() {
		return
	}

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("forgot password lookup", "error", err)
		return
	}
	if user == nil {
		return
	}

	temp, err := tempPassword()
	if err != nil {
		h.logger.Error("generate temp password", "error", err)
		return
	}
	hash, err := auth.HashPassword(temp)
	if err != nil {
		h.logger.Error("hash temp password", "error", err)
		return
	}
	if err := h.users.UpdatePassword(user.ID, hash, true); err != nil {
		h.logger.Error("store temp password", "error", err)
		return
	}
	if err := h.sessions.DeleteByUserID(user.ID); err != nil {
		h.logger.Error("delete sessions", "error", err)
	}
	if err := h.emailClient.SendPasswordReset(r.Context(), user.Email, temp); err != nil {
		h.logger.Error("send password reset", "error", err)
	}
}

// tempPassword builds a random one-time password that passes the
// password policy.
func tempPassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "Tmp1-" + hex.EncodeToString(buf), nil
}

type registerRequest struct {
	Token    string `json:"token"`
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// Register creates an account. With an invite token the invite's email
// and role win; without one registration must be open for the instance.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeValid(w, r, &req) {
		return
	}

	var invite *model.Invite
	if req.Token != "" {
		var err error
		invite, err = h.invites.GetByToken(req.Token)
		if err != nil {
			h.logger.Error("invite lookup", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}
		if invite == nil {
			writeError(w, http.StatusBadRequest, "invalid or expired invite")
			return
		}
	} else if !h.cfg.RegistrationOpen() {
		writeError(w, http.StatusForbidden, "registration is closed")
		return
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.users.GetByUsername(req.Username)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	role := model.RoleUser
	emailAddr := req.Email
	if invite != nil {
		role = invite.Role
		emailAddr = invite.Email
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user, err := h.users.Create(req.Username, hash, role, emailAddr, false)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if invite != nil {
		if err := h.invites.MarkUsed(invite.ID); err != nil {
			h.logger.Error("mark invite used", "error", err)
		}
	} else {
		// Open registration: the account starts with its own group.
		group, err := h.groups.Create(user.Username, user.Username, "")
		if err != nil {
			h.logger.Error("create group", "error", err)
		} else if err := h.groups.Grant(user.ID, group.ID); err != nil {
			h.logger.Error("grant group", "error", err)
		}
	}

	if emailAddr != "" && h.emailClient.Configured() {
		if err := h.emailClient.SendWelcome(r.Context(), emailAddr, user.Username); err != nil {
			h.logger.Error("send welcome email", "error", err)
		}
	}

	sess, err := h.sessions.Create(user.ID, h.activeGroup(user.ID))
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	h.setSessionCookie(w, r, sess.Token)

	writeJSON(w, http.StatusCreated, user)
}
