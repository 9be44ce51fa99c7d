package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/store"
)

// SessionCookieName is the browser session cookie.
const SessionCookieName = "billminder_session"

// GroupHeader lets token-authenticated clients pick the active bill
// group per request. Cookie sessions carry the group on the session row.
const GroupHeader = "X-Group-ID"

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// RequireAuth authenticates the request and populates auth.Context.
// Two schemes are accepted: the session cookie set at login, and a
// Bearer access token for mobile clients. Failures are JSON 401s; this
// is an API, not a page server, so there are no login redirects.
func RequireAuth(sessions *store.SessionStore, users *store.UserStore, groups *store.GroupStore, tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				authenticateBearer(w, r, next, strings.TrimPrefix(header, "Bearer "), users, groups, tokens)
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessions.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			user, err := users.GetByID(sess.UserID)
			if err != nil || user == nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ac := auth.Context{
				UserID:        user.ID,
				GroupID:       sess.GroupID,
				Role:          user.Role,
				SessionID:     sess.ID,
				ChangePending: user.PasswordChangeRequired,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
		})
	}
}

func authenticateBearer(w http.ResponseWriter, r *http.Request, next http.Handler, tokenString string, users *store.UserStore, groups *store.GroupStore, tokens *auth.TokenManager) {
	userID, role, err := tokens.Verify(tokenString)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	user, err := users.GetByID(userID)
	if err != nil || user == nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	groupID, err := bearerGroup(r, users, groups, userID)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "no accessible bill group")
		return
	}

	ac := auth.Context{
		UserID:        user.ID,
		GroupID:       groupID,
		Role:          role,
		ChangePending: user.PasswordChangeRequired,
	}
	next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
}

// bearerGroup resolves the active group for token clients: the
// X-Group-ID header when present, otherwise the user's first accessible
// group (admins fall back to the default group).
func bearerGroup(r *http.Request, users *store.UserStore, groups *store.GroupStore, userID int64) (int64, error) {
	if header := r.Header.Get(GroupHeader); header != "" {
		id, err := strconv.ParseInt(header, 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	}

	accessible, err := groups.ListForUser(userID)
	if err != nil {
		return 0, err
	}
	if len(accessible) > 0 {
		return accessible[0].ID, nil
	}

	user, err := users.GetByID(userID)
	if err != nil {
		return 0, err
	}
	if user != nil && user.Role == "admin" {
		return 1, nil // seeded default group
	}
	return 0, errNoGroup
}

type noGroupError struct{}

func (noGroupError) Error() string { return "no accessible group" }

var errNoGroup = noGroupError{}

// RequireGroupAccess verifies the caller may use the active bill group,
// and blocks tenant routes while a forced password change is pending.
// Admins have implicit access to every group.
func RequireGroupAccess(groups *store.GroupStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if ac.ChangePending {
				writeJSONError(w, http.StatusForbidden, "password change required")
				return
			}
			if ac.Role != "admin" {
				ok, err := groups.HasAccess(ac.UserID, ac.GroupID)
				if err != nil || !ok {
					writeJSONError(w, http.StatusForbidden, "no access to bill group")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeJSONError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
