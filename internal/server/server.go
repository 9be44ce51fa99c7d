// Package server wires stores, handlers, and middleware into the HTTP
// router.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/autopay"
	"github.com/mbecker/billminder/internal/backup"
	"github.com/mbecker/billminder/internal/billing"
	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/email"
	"github.com/mbecker/billminder/internal/handler"
	"github.com/mbecker/billminder/internal/middleware"
	"github.com/mbecker/billminder/internal/store"
	ws "github.com/mbecker/billminder/internal/websocket"
)

type Server struct {
	cfg *config.Config
	db  *sql.DB
	hub *ws.Hub

	authH    *handler.AuthHandler
	tokenH   *handler.TokenHandler
	billH    *handler.BillHandler
	paymentH *handler.PaymentHandler
	summaryH *handler.SummaryHandler
	userH    *handler.UserHandler
	groupH   *handler.GroupHandler
	autopayH *handler.AutopayHandler
	backupH  *handler.BackupHandler
	billingH *billing.Handler

	userStore         *store.UserStore
	groupStore        *store.GroupStore
	sessionStore      *store.SessionStore
	inviteStore       *store.InviteStore
	refreshTokenStore *store.RefreshTokenStore
	changeTokenStore  *store.ChangeTokenStore

	tokens        *auth.TokenManager
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	processor     *autopay.Processor
	logger        *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, emailClient *email.Client, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	groupStore := store.NewGroupStore(db)
	sessionStore := store.NewSessionStore(db)
	inviteStore := store.NewInviteStore(db)
	refreshTokenStore := store.NewRefreshTokenStore(db)
	changeTokenStore := store.NewChangeTokenStore(db)
	billStore := store.NewBillStore(db)
	paymentStore := store.NewPaymentStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	settingsStore := store.NewSettingsStore(db)

	tokens := auth.NewTokenManager(cfg.JWTSecret)
	processor := autopay.New(billStore, paymentStore, hub, logger.With("component", "autopay"))
	backupManager := backup.NewManager(cfg.Backup, cfg.DBPath, db, settingsStore, logger.With("component", "backup"))

	var billingH *billing.Handler
	if cfg.BillingEnabled() {
		client := billing.NewClient(billing.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			PriceID:       cfg.Stripe.PriceID,
			SuccessURL:    cfg.BaseURL + "/settings?checkout=success",
			CancelURL:     cfg.BaseURL + "/settings?checkout=canceled",
		})
		billingH = billing.NewHandler(client, userStore, subscriptionStore, logger.With("component", "billing"))
	}

	return &Server{
		cfg: cfg,
		db:  db,
		hub: hub,

		authH:    handler.NewAuthHandler(userStore, sessionStore, groupStore, changeTokenStore, inviteStore, emailClient, cfg, logger.With("component", "auth")),
		tokenH:   handler.NewTokenHandler(userStore, refreshTokenStore, tokens, logger.With("component", "authv2")),
		billH:    handler.NewBillHandler(billStore, paymentStore, hub, logger.With("component", "bill")),
		paymentH: handler.NewPaymentHandler(paymentStore, hub, logger.With("component", "payment")),
		summaryH: handler.NewSummaryHandler(billStore, paymentStore, logger.With("component", "summary")),
		userH:    handler.NewUserHandler(userStore, groupStore, inviteStore, sessionStore, emailClient, logger.With("component", "user")),
		groupH:   handler.NewGroupHandler(groupStore, userStore, logger.With("component", "group")),
		autopayH: handler.NewAutopayHandler(processor, logger.With("component", "autopay")),
		backupH:  handler.NewBackupHandler(backupManager, logger.With("component", "backup")),
		billingH: billingH,

		userStore:         userStore,
		groupStore:        groupStore,
		sessionStore:      sessionStore,
		inviteStore:       inviteStore,
		refreshTokenStore: refreshTokenStore,
		changeTokenStore:  changeTokenStore,

		tokens:        tokens,
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupManager,
		processor:     processor,
		logger:        logger,
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub { return s.hub }

// Processor returns the auto-pay processor for the background sweep.
func (s *Server) Processor() *autopay.Processor { return s.processor }

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager { return s.backupManager }

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore { return s.sessionStore }

// InviteStore returns the invite store for cleanup tasks.
func (s *Server) InviteStore() *store.InviteStore { return s.inviteStore }

// RefreshTokenStore returns the refresh token store for cleanup tasks.
func (s *Server) RefreshTokenStore() *store.RefreshTokenStore { return s.refreshTokenStore }

// ChangeTokenStore returns the change token store for cleanup tasks.
func (s *Server) ChangeTokenStore() *store.ChangeTokenStore { return s.changeTokenStore }

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter { return s.rateLimiter }

// UserStore returns the user store for startup seeding.
func (s *Server) UserStore() *store.UserStore { return s.userStore }

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /api/v2/config", handler.Config(s.cfg))
	outerMux.HandleFunc("POST /login", s.rateLimited(s.authH.Login))
	outerMux.HandleFunc("POST /register", s.rateLimited(s.authH.Register))
	outerMux.HandleFunc("POST /change-password", s.rateLimited(s.authH.ChangePassword))
	outerMux.HandleFunc("POST /forgot-password", s.rateLimited(s.authH.ForgotPassword))
	outerMux.HandleFunc("POST /api/v2/auth/login", s.rateLimited(s.tokenH.Login))
	outerMux.HandleFunc("POST /api/v2/auth/refresh", s.rateLimited(s.tokenH.Refresh))
	outerMux.HandleFunc("POST /api/v2/auth/logout", s.tokenH.Logout)
	if s.billingH != nil {
		// Stripe authenticates webhooks by signature, not session.
		outerMux.HandleFunc("POST /api/v2/billing/webhook", s.billingH.HandleWebhook)
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore, s.groupStore, s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	grouped := middleware.RequireGroupAccess(s.groupStore)
	gated := func(h http.HandlerFunc) http.Handler { return grouped(h) }
	admin := func(h http.HandlerFunc) http.Handler { return middleware.RequireAdmin(h) }

	// Session-level routes: reachable while a password change is
	// pending, so the SPA can finish the flow.
	mux.HandleFunc("POST /logout", s.authH.Logout)
	mux.HandleFunc("GET /me", s.authH.Me)
	mux.HandleFunc("POST /databases/select", s.authH.SelectDatabase)
	mux.HandleFunc("GET /databases", s.groupH.List)

	// Bill API, scoped to the session's active group.
	mux.Handle("GET /bills", gated(s.billH.List))
	mux.Handle("POST /bills", gated(s.billH.Create))
	mux.Handle("PUT /bills/{id}", gated(s.billH.Update))
	mux.Handle("DELETE /bills/{id}", gated(s.billH.Archive))
	mux.Handle("POST /bills/{id}/unarchive", gated(s.billH.Unarchive))
	mux.Handle("DELETE /bills/{id}/permanent", gated(s.billH.PermanentDelete))
	mux.Handle("POST /bills/{id}/pay", gated(s.billH.Pay))
	mux.Handle("GET /bills/{name}/payments", gated(s.billH.PaymentsByName))
	mux.Handle("GET /accounts", gated(s.billH.Accounts))

	mux.Handle("PUT /payments/{id}", gated(s.paymentH.Update))
	mux.Handle("DELETE /payments/{id}", gated(s.paymentH.Delete))
	mux.Handle("GET /api/payments/monthly", gated(s.paymentH.Monthly))
	mux.Handle("GET /api/payments/all", gated(s.paymentH.All))
	mux.Handle("GET /api/payments/bill/{name}/monthly", gated(s.paymentH.MonthlyForBill))
	mux.Handle("GET /api/summary", gated(s.summaryH.Summary))
	mux.Handle("POST /api/process-auto-payments", gated(s.autopayH.Process))

	// Real-time sync
	mux.Handle("GET /ws", gated(ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket"))))

	// Admin: users, invites, bill groups, backups
	mux.Handle("GET /users", admin(s.userH.List))
	mux.Handle("POST /users", admin(s.userH.Create))
	mux.Handle("DELETE /users/{id}", admin(s.userH.Delete))
	mux.Handle("GET /users/{id}/databases", admin(s.userH.GetDatabases))
	mux.Handle("PUT /users/{id}/databases", admin(s.userH.PutDatabases))
	mux.Handle("POST /users/invite", admin(s.userH.Invite))
	mux.Handle("GET /users/invites", admin(s.userH.ListInvites))
	mux.Handle("DELETE /users/invites/{id}", admin(s.userH.DeleteInvite))

	mux.Handle("POST /databases", admin(s.groupH.Create))
	mux.Handle("PUT /databases/{id}", admin(s.groupH.Update))
	mux.Handle("DELETE /databases/{id}", admin(s.groupH.Delete))
	mux.Handle("GET /databases/{id}/access", admin(s.groupH.GetAccess))
	mux.Handle("POST /databases/{id}/access/{userID}", admin(s.groupH.GrantAccess))
	mux.Handle("DELETE /databases/{id}/access/{userID}", admin(s.groupH.RevokeAccess))

	mux.Handle("POST /api/v2/backup/run", admin(s.backupH.Run))
	mux.Handle("GET /api/v2/backup/status", admin(s.backupH.Status))
	mux.Handle("GET /api/v2/backup/snapshots", admin(s.backupH.Snapshots))
	mux.Handle("GET /api/v2/backup/download", admin(s.backupH.Download))
	mux.Handle("POST /api/v2/backup/restore", admin(s.backupH.Restore))

	// Billing (hosted mode only)
	if s.billingH != nil {
		mux.HandleFunc("POST /api/v2/billing/checkout", s.billingH.CreateCheckoutSession)
		mux.HandleFunc("POST /api/v2/billing/portal", s.billingH.BillingPortal)
		mux.HandleFunc("GET /api/v2/billing/status", s.billingH.Status)
		mux.HandleFunc("POST /api/v2/billing/cancel", s.billingH.Cancel)
	}
}
