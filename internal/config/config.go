package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Deployment modes.
const (
	ModeSelfHosted = "self-hosted"
	ModeSaaS       = "saas"
)

// Config holds everything billminder reads from the environment.
type Config struct {
	Port     string `env:"BILLMINDER_PORT, default=8080"`
	DBPath   string `env:"BILLMINDER_DB_PATH, default=billminder.db"`
	BaseURL  string `env:"BILLMINDER_BASE_URL"`
	LogLevel string `env:"BILLMINDER_LOG_LEVEL, default=info"`
	LogFmt   string `env:"BILLMINDER_LOG_FORMAT, default=text"`

	// DeploymentMode selects self-hosted or saas behavior.
	DeploymentMode string `env:"DEPLOYMENT_MODE, default=self-hosted"`

	// RegistrationEnabled overrides the mode default when set.
	RegistrationEnabled *bool `env:"ENABLE_REGISTRATION, noinit"`

	// JWTSecret signs mobile access tokens. Required.
	JWTSecret string `env:"BILLMINDER_JWT_SECRET"`

	Email  EmailConfig
	Stripe StripeConfig
	Backup BackupConfig
}

// EmailConfig configures the Resend client.
type EmailConfig struct {
	APIKey    string `env:"RESEND_API_KEY"`
	FromEmail string `env:"BILLMINDER_FROM_EMAIL, default=billminder@localhost"`
}

// StripeConfig configures subscription billing (saas mode).
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceID       string `env:"STRIPE_PRICE_ID"`
}

// BackupConfig configures S3 snapshot backups (self-hosted mode).
type BackupConfig struct {
	Endpoint   string `env:"BACKUP_S3_ENDPOINT"`
	Region     string `env:"BACKUP_S3_REGION, default=auto"`
	Bucket     string `env:"BACKUP_S3_BUCKET"`
	AccessKey  string `env:"BACKUP_S3_ACCESS_KEY"`
	SecretKey  string `env:"BACKUP_S3_SECRET_KEY"`
	Passphrase string `env:"BACKUP_PASSPHRASE"`
	Retention  int    `env:"BACKUP_RETENTION, default=14"`
}

// Load reads an optional .env file, then parses the environment.
func Load(ctx context.Context) (*Config, error) {
	// Missing .env is fine; a present-but-unreadable one is not.
	if err := godotenv.Load(); err != nil {
		// godotenv returns a *PathError for a missing file
		if !isNotExist(err) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DeploymentMode != ModeSelfHosted && cfg.DeploymentMode != ModeSaaS {
		return nil, fmt.Errorf("invalid DEPLOYMENT_MODE %q (want %q or %q)", cfg.DeploymentMode, ModeSelfHosted, ModeSaaS)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("BILLMINDER_JWT_SECRET is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	return &cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsSaaS reports whether the instance runs in hosted mode.
func (c *Config) IsSaaS() bool { return c.DeploymentMode == ModeSaaS }

// BillingEnabled reports whether Stripe billing endpoints are live:
// hosted mode with a configured secret key.
func (c *Config) BillingEnabled() bool {
	return c.IsSaaS() && c.Stripe.SecretKey != ""
}

// RegistrationOpen reports whether self-service registration is allowed.
// Defaults to on for saas and off for self-hosted unless overridden.
func (c *Config) RegistrationOpen() bool {
	if c.RegistrationEnabled != nil {
		return *c.RegistrationEnabled
	}
	return c.IsSaaS()
}

// EmailEnabled reports whether outbound mail is configured.
func (c *Config) EmailEnabled() bool { return c.Email.APIKey != "" }

// Public returns the config descriptor safe to expose to the frontend.
func (c *Config) Public() map[string]any {
	return map[string]any{
		"deployment_mode":      c.DeploymentMode,
		"billing_enabled":      c.BillingEnabled(),
		"registration_enabled": c.RegistrationOpen(),
		"email_enabled":        c.EmailEnabled(),
	}
}
