package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/mbecker/billminder/internal/auth"
	"github.com/mbecker/billminder/internal/store"
)

// Handler serves the subscription endpoints backing hosted deployments.
type Handler struct {
	client        *Client
	users         *store.UserStore
	subscriptions *store.SubscriptionStore
	logger        *slog.Logger
}

func NewHandler(client *Client, users *store.UserStore, subscriptions *store.SubscriptionStore, logger *slog.Logger) *Handler {
	return &Handler{
		client:        client,
		users:         users,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// CreateCheckoutSession starts a Stripe checkout for the current user,
// creating the Stripe customer and local subscription row on first use.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	user, err := h.users.GetByID(userID)
	if err != nil || user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if user.Email == "" {
		h.writeError(w, http.StatusBadRequest, "an email address is required for billing")
		return
	}

	sub, err := h.subscriptions.GetByUserID(userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	if sub == nil {
		sub, err = h.subscriptions.Create(userID, "hosted")
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to create subscription")
			return
		}
	}

	customerID := ""
	if sub.StripeCustomerID != nil {
		customerID = *sub.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.client.CreateCustomer(user.Email)
		if err != nil {
			h.logger.Error("create stripe customer", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to create customer")
			return
		}
		if err := h.subscriptions.UpdateStripeCustomerID(sub.ID, customerID); err != nil {
			h.logger.Error("store stripe customer id", "error", err)
		}
	}

	url, err := h.client.CreateCheckoutSession(customerID, strconv.FormatInt(userID, 10))
	if err != nil {
		h.logger.Error("create checkout session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal returns a Stripe billing portal URL for the current user.
func (h *Handler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	sub, err := h.subscriptions.GetByUserID(userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	if sub == nil || sub.StripeCustomerID == nil {
		h.writeError(w, http.StatusBadRequest, "no billing account")
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = "/settings"
	}

	url, err := h.client.CreateBillingPortalSession(*sub.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("create portal session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Status reports the current user's subscription state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetByUserID(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	if sub == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"status": "none"})
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// Cancel flags the subscription to lapse at the end of the billing
// period. Access continues until then.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetByUserID(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	if sub == nil || sub.StripeSubscriptionID == nil {
		h.writeError(w, http.StatusBadRequest, "no active subscription")
		return
	}

	if err := h.client.CancelAtPeriodEnd(*sub.StripeSubscriptionID); err != nil {
		h.logger.Error("cancel subscription", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel subscription")
		return
	}
	if err := h.subscriptions.SetCancelAtPeriodEnd(sub.ID, true); err != nil {
		h.logger.Error("store cancel flag", "error", err)
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"cancel_at_period_end": true})
}

// HandleWebhook processes Stripe events. Unknown event types are
// acknowledged and dropped.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.client.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "invoice.paid":
		h.handleInvoicePaid(event)
	case "invoice.payment_failed":
		h.handleInvoicePaymentFailed(event)
	case "customer.subscription.updated":
		h.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}

	userID, err := strconv.ParseInt(sess.ClientReferenceID, 10, 64)
	if err != nil {
		h.logger.Error("webhook: checkout session missing client reference", "reference", sess.ClientReferenceID)
		return
	}

	sub, err := h.subscriptions.GetByUserID(userID)
	if err != nil {
		h.logger.Error("webhook: get subscription", "error", err)
		return
	}
	if sub == nil {
		sub, err = h.subscriptions.Create(userID, "hosted")
		if err != nil {
			h.logger.Error("webhook: create subscription", "error", err)
			return
		}
	}

	if sess.Customer != nil {
		if err := h.subscriptions.UpdateStripeCustomerID(sub.ID, sess.Customer.ID); err != nil {
			h.logger.Error("webhook: update stripe customer id", "error", err)
		}
	}
	if sess.Subscription != nil {
		if err := h.subscriptions.UpdateStripeSubscriptionID(sub.ID, sess.Subscription.ID); err != nil {
			h.logger.Error("webhook: update stripe subscription id", "error", err)
		}
	}

	h.logger.Info("webhook: checkout completed", "user_id", userID)
}

// subscriptionIDFromInvoice extracts the subscription ID from an
// invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func (h *Handler) handleInvoicePaid(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("webhook: unmarshal invoice", "error", err)
		return
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return
	}

	sub, err := h.subscriptions.GetByStripeSubscriptionID(subID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subscriptions.UpdateStatus(sub.ID, "active"); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
	if invoice.PeriodEnd > 0 {
		periodEnd := time.Unix(invoice.PeriodEnd, 0).UTC()
		if err := h.subscriptions.UpdatePeriodEnd(sub.ID, &periodEnd); err != nil {
			h.logger.Error("webhook: update period end", "error", err)
		}
	}
}

func (h *Handler) handleInvoicePaymentFailed(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("webhook: unmarshal invoice", "error", err)
		return
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return
	}

	sub, err := h.subscriptions.GetByStripeSubscriptionID(subID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subscriptions.UpdateStatus(sub.ID, "past_due"); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
}

func (h *Handler) handleSubscriptionUpdated(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return
	}

	sub, err := h.subscriptions.GetByStripeSubscriptionID(stripeSub.ID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subscriptions.UpdateStatus(sub.ID, string(stripeSub.Status)); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
	if err := h.subscriptions.SetCancelAtPeriodEnd(sub.ID, stripeSub.CancelAtPeriodEnd); err != nil {
		h.logger.Error("webhook: set cancel at period end", "error", err)
	}
}

func (h *Handler) handleSubscriptionDeleted(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return
	}

	sub, err := h.subscriptions.GetByStripeSubscriptionID(stripeSub.ID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subscriptions.UpdateStatus(sub.ID, "canceled"); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
}
