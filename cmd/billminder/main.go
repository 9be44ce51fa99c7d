package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/database"
	"github.com/mbecker/billminder/internal/email"
	"github.com/mbecker/billminder/internal/logging"
	"github.com/mbecker/billminder/internal/model"
	"github.com/mbecker/billminder/internal/server"
	"github.com/mbecker/billminder/internal/store"
)

const autopayInterval = 24 * time.Hour

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFmt)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := seedDefaultAdmin(db, logger); err != nil {
		logger.Error("failed to seed default admin", "error", err)
		os.Exit(1)
	}

	emailClient := email.NewClient(cfg.Email.APIKey, cfg.Email.FromEmail, cfg.BaseURL)
	srv := server.New(cfg, db, emailClient, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	// Daily auto-pay sweep.
	go srv.Processor().Run(bgCtx, autopayInterval)

	// Scheduled encrypted snapshots (no-op unless configured).
	srv.BackupManager().Start(bgCtx)
	defer srv.BackupManager().Stop()

	// Hourly expiry cleanup.
	go cleanupLoop(bgCtx, srv, logger)

	go func() {
		logger.Info("billminder starting", "addr", ":"+cfg.Port, "mode", cfg.DeploymentMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// seedDefaultAdmin creates the initial admin account on an empty
// instance. The well-known password must be changed at first login;
// the forced-change gate keeps tenant data locked until then.
func seedDefaultAdmin(db *sql.DB, logger *slog.Logger) error {
	users := store.NewUserStore(db)
	n, err := users.Count()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := auth.HashPassword("changeme")
	if err != nil {
		return err
	}
	admin, err := users.Create("admin", hash, model.RoleAdmin, "", true)
	if err != nil {
		return err
	}
	logger.Info("seeded default admin; password change required on first login",
		"username", admin.Username)
	return nil
}

func cleanupLoop(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			expire := []struct {
				name string
				fn   func() (int64, error)
			}{
				{"sessions", srv.SessionStore().DeleteExpired},
				{"invites", srv.InviteStore().DeleteExpired},
				{"refresh tokens", srv.RefreshTokenStore().DeleteExpired},
				{"change tokens", srv.ChangeTokenStore().DeleteExpired},
			}
			for _, e := range expire {
				if n, err := e.fn(); err != nil {
					logger.Error("cleanup expired "+e.name, "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired "+e.name, "count", n)
				}
			}
			srv.RateLimiter().Cleanup()
		case <-ctx.Done():
			return
		}
	}
}
