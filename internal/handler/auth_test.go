package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/email"
	"github.com/mbecker/billminder/internal/middleware"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/store"
)

func setupAuthHandler(t *testing.T, db *sql.DB, cfg *config.Config) (*AuthHandler, *store.UserStore) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{DeploymentMode: config.ModeSelfHosted}
	}
	users := store.NewUserStore(db)
	h := NewAuthHandler(
		users,
		store.NewSessionStore(db),
		store.NewGroupStore(db),
		store.NewChangeTokenStore(db),
		store.NewInviteStore(db),
		email.NewClient("", "test@localhost", "http://localhost"),
		cfg,
		testLogger(),
	)
	return h, users
}

func createUser(t *testing.T, users *store.UserStore, username, password, role string, changeRequired bool) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := users.Create(username, hash, role, "", changeRequired)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestLoginSuccess(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	user := createUser(t, users, "frank", "Sup3rSecret", model.RoleUser, false)
	if err := store.NewGroupStore(db).Grant(user.ID, testGroupID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/login", strings.NewReader(`{"username":"frank","password":"Sup3rSecret"}`))
	h.Login(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	cookie := sessionCookie(t, rec)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("no session cookie set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie not HttpOnly")
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["username"] != "frank" || resp["role"] != model.RoleUser {
		t.Errorf("response = %v", resp)
	}
	if resp["password_change_required"] != false {
		t.Errorf("password_change_required = %v, want false", resp["password_change_required"])
	}
	if _, ok := resp["change_token"]; ok {
		t.Error("change_token present without a pending change")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	createUser(t, users, "frank", "Sup3rSecret", model.RoleUser, false)

	for _, body := range []string{
		`{"username":"frank","password":"wrong"}`,
		`{"username":"nobody","password":"Sup3rSecret"}`,
	} {
		rec := httptest.NewRecorder()
		h.Login(rec, httptest.NewRequest("POST", "/login", strings.NewReader(body)))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 for %s", rec.Code, body)
		}
	}
}

func TestLoginForcedChangeFlow(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	user := createUser(t, users, "admin", "changeme1A", model.RoleAdmin, true)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest("POST", "/login", strings.NewReader(`{"username":"admin","password":"changeme1A"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["password_change_required"] != true {
		t.Fatal("expected password_change_required true")
	}
	token, _ := resp["change_token"].(string)
	if token == "" {
		t.Fatal("expected a change token")
	}

	// Weak replacement is rejected and the token stays usable.
	rec = httptest.NewRecorder()
	h.ChangePassword(rec, httptest.NewRequest("POST", "/change-password",
		strings.NewReader(`{"token":"`+token+`","new_password":"weak"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("weak password status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ChangePassword(rec, httptest.NewRequest("POST", "/change-password",
		strings.NewReader(`{"token":"`+token+`","new_password":"NewPassw0rd"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("change status = %d: %s", rec.Code, rec.Body)
	}
	if sessionCookie(t, rec) == nil {
		t.Error("change did not issue a fresh session")
	}

	updated, err := users.GetByID(user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if updated.PasswordChangeRequired {
		t.Error("flag not cleared after change")
	}
	if auth.CheckPassword(updated.PasswordHash, "NewPassw0rd") != nil {
		t.Error("new password not stored")
	}

	// Token is single use.
	rec = httptest.NewRecorder()
	h.ChangePassword(rec, httptest.NewRequest("POST", "/change-password",
		strings.NewReader(`{"token":"`+token+`","new_password":"An0therPass"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reused token status = %d, want 400", rec.Code)
	}
}

func TestMeReturnsSessionIdentity(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	user := createUser(t, users, "frank", "Sup3rSecret", model.RoleUser, false)

	rec := httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest("GET", "/me", nil), user.ID, user.Role))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["username"] != "frank" {
		t.Errorf("username = %v", resp["username"])
	}
	group, ok := resp["group"].(map[string]any)
	if !ok || group["name"] != "personal" {
		t.Errorf("group = %v, want seeded personal group", resp["group"])
	}
}

func TestSelectDatabaseRequiresGrant(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	user := createUser(t, users, "frank", "Sup3rSecret", model.RoleUser, false)

	groups := store.NewGroupStore(db)
	other, err := groups.Create("shared", "Shared", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	body := `{"id":` + jsonInt(other.ID) + `}`
	rec := httptest.NewRecorder()
	h.SelectDatabase(rec, asUser(httptest.NewRequest("POST", "/databases/select", strings.NewReader(body)), user.ID, user.Role))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted select status = %d, want 403", rec.Code)
	}

	if err := groups.Grant(user.ID, other.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rec = httptest.NewRecorder()
	h.SelectDatabase(rec, asUser(httptest.NewRequest("POST", "/databases/select", strings.NewReader(body)), user.ID, user.Role))
	if rec.Code != http.StatusOK {
		t.Fatalf("granted select status = %d: %s", rec.Code, rec.Body)
	}
}

func TestRegisterClosedWithoutInvite(t *testing.T) {
	db := setupDB(t)
	h, _ := setupAuthHandler(t, db, nil) // self-hosted: registration closed

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest("POST", "/register",
		strings.NewReader(`{"username":"newbie","password":"NewPassw0rd"}`)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRegisterWithInvite(t *testing.T) {
	db := setupDB(t)
	h, users := setupAuthHandler(t, db, nil)
	invites := store.NewInviteStore(db)

	invite, err := invites.Create("new@example.com", model.RoleUser)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest("POST", "/register",
		strings.NewReader(`{"token":"`+invite.Token+`","username":"newbie","password":"NewPassw0rd"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	user, err := users.GetByUsername("newbie")
	if err != nil || user == nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("email = %q, want invite email", user.Email)
	}

	// Invite is consumed.
	reused, err := invites.GetByToken(invite.Token)
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	if reused != nil {
		t.Error("invite still redeemable after use")
	}
}

func TestRegisterOpenCreatesOwnGroup(t *testing.T) {
	db := setupDB(t)
	cfg := &config.Config{DeploymentMode: config.ModeSaaS}
	h, users := setupAuthHandler(t, db, cfg)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest("POST", "/register",
		strings.NewReader(`{"username":"tenant","password":"NewPassw0rd"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	user, err := users.GetByUsername("tenant")
	if err != nil || user == nil {
		t.Fatalf("user not created: %v", err)
	}
	groups, err := store.NewGroupStore(db).ListForUser(user.ID)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "tenant" {
		t.Errorf("groups = %v, want one personal group", groups)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
