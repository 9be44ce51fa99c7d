// Package email sends transactional mail through the Resend API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultAPIURL = "https://api.resend.com/emails"

type Client struct {
	apiKey     string
	fromEmail  string
	baseURL    string
	apiURL     string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL overrides the Resend endpoint, for tests.
func WithAPIURL(url string) Option {
	return func(cl *Client) {
		cl.apiURL = url
	}
}

// NewClient builds a Resend client. baseURL is the public URL of this
// instance, used to build links in email bodies.
func NewClient(apiKey, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		baseURL:    baseURL,
		apiURL:     defaultAPIURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// SendInvite mails a registration invite link.
func (c *Client) SendInvite(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/register?token=%s", c.baseURL, token)
	text := fmt.Sprintf("You've been invited to BillMinder.\n\nCreate your account here:\n\n%s\n\nThis invite expires in 7 days.", link)
	html := fmt.Sprintf(
		`<p>You've been invited to BillMinder.</p><p><a href="%s">Create your account</a></p><p>This invite expires in 7 days.</p>`,
		link,
	)
	return c.send(ctx, toEmail, "You've been invited to BillMinder", html, text)
}

// SendPasswordReset mails a temporary password issued by the
// forgot-password flow.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, tempPassword string) error {
	text := fmt.Sprintf("Your BillMinder password was reset.\n\nTemporary password: %s\n\nYou'll be asked to choose a new password when you sign in.", tempPassword)
	html := fmt.Sprintf(
		`<p>Your BillMinder password was reset.</p><p>Temporary password: <code>%s</code></p><p>You'll be asked to choose a new password when you sign in.</p>`,
		tempPassword,
	)
	return c.send(ctx, toEmail, "BillMinder password reset", html, text)
}

// SendWelcome confirms a completed registration.
func (c *Client) SendWelcome(ctx context.Context, toEmail, username string) error {
	text := fmt.Sprintf("Welcome to BillMinder, %s!\n\nSign in any time at %s.", username, c.baseURL)
	html := fmt.Sprintf(
		`<p>Welcome to BillMinder, %s!</p><p>Sign in any time at <a href="%s">%s</a>.</p>`,
		username, c.baseURL, c.baseURL,
	)
	return c.send(ctx, toEmail, "Welcome to BillMinder", html, text)
}

// send posts to the Resend API, retrying transient failures with
// exponential backoff. 4xx responses are not retried.
func (c *Client) send(ctx context.Context, toEmail, subject, html, text string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing API key")
	}

	payload := resendEmail{
		From:    c.fromEmail,
		To:      []string{toEmail},
		Subject: subject,
		HTML:    html,
		Text:    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send email: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("resend API error: status %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return fmt.Errorf("resend API error: status %d", resp.StatusCode)
		}
		return nil
	})
}
