package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/store"
)

// TokenHandler serves the /api/v2/auth endpoints used by mobile
// clients: short-lived JWT access tokens paired with rotating opaque
// refresh tokens.
type TokenHandler struct {
	users         *store.UserStore
	refreshTokens *store.RefreshTokenStore
	tokens        *auth.TokenManager
	logger        *slog.Logger
}

func NewTokenHandler(us *store.UserStore, rts *store.RefreshTokenStore, tm *auth.TokenManager, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		users:         us,
		refreshTokens: rts,
		tokens:        tm,
		logger:        logger,
	}
}

func (h *TokenHandler) tokenPair(w http.ResponseWriter, userID int64, role, deviceInfo string) {
	access, err := h.tokens.Sign(userID, role, time.Now())
	if err != nil {
		h.logger.Error("sign access token", "error", err)
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	refresh, _, err := h.refreshTokens.Create(userID, deviceInfo)
	if err != nil {
		h.logger.Error("create refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    int(auth.AccessTokenTTL.Seconds()),
	})
}

type tokenLoginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	DeviceInfo string `json:"device_info"`
}

func (h *TokenHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req tokenLoginRequest
	if !decodeValid(w, r, &req) {
		return
	}

	user, err := h.users.GetByUsername(req.Username)
	if err != nil {
		h.logger.Error("token login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	h.tokenPair(w, user.ID, user.Role, req.DeviceInfo)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates the refresh token: the presented token is revoked and
// a new pair is issued.
func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeValid(w, r, &req) {
		return
	}

	rt, err := h.refreshTokens.GetByToken(req.RefreshToken)
	if err != nil {
		h.logger.Error("refresh token lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	if rt == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := h.users.GetByID(rt.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.refreshTokens.Revoke(rt.ID); err != nil {
		h.logger.Error("revoke refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	h.tokenPair(w, user.ID, user.Role, rt.DeviceInfo)
}

// Logout revokes the presented refresh token. Unknown tokens still get
// a 200; the caller's goal is reached either way.
func (h *TokenHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeValid(w, r, &req) {
		return
	}

	rt, err := h.refreshTokens.GetByToken(req.RefreshToken)
	if err != nil {
		h.logger.Error("logout token lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	if rt != nil {
		if err := h.refreshTokens.Revoke(rt.ID); err != nil {
			h.logger.Error("revoke refresh token", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
