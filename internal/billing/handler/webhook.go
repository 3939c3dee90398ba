package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/calebmartin/applywise/internal/billing/model"
	billingstripe "github.com/calebmartin/applywise/internal/billing/stripe"
)

// maxWebhookBody caps how much of the processor's payload we buffer for
// signature verification.
const maxWebhookBody = 65536

// SubscriptionStateStore applies billing state transitions exactly once per
// processor event ID; replays must be safe no-ops.
type SubscriptionStateStore interface {
	ActivateFromCheckout(eventID string, a model.CheckoutActivation) error
	UpsertSubscription(eventID, subscriptionID, status string, cancelAtPeriodEnd bool) error
	MarkSubscriptionCanceled(eventID, subscriptionID string, endedAt time.Time) error
	RecordInvoicePaid(eventID, subscriptionID string, periodEnd time.Time) error
	RecordInvoiceFailed(eventID, subscriptionID string) error
}

type WebhookHandler struct {
	stripeClient *billingstripe.Client
	store        SubscriptionStateStore
	logger       *slog.Logger
}

func NewWebhookHandler(sc *billingstripe.Client, store SubscriptionStateStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripeClient: sc,
		store:        store,
		logger:       logger,
	}
}

// HandleStripeWebhook authenticates and dispatches processor notifications.
// The signature is the only authentication on this endpoint, so the body must
// be verified as raw bytes before anything inspects it. Dispatch failures
// return 500 so the processor redelivers; signature failures are terminal.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "Missing signature")
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, sig)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	if err := h.dispatch(event); err != nil {
		h.logger.Error("webhook dispatch failed", "event", event.ID, "type", event.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "Event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) dispatch(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(event)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionChanged(event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(event)
	case "invoice.payment_succeeded":
		return h.handleInvoicePaid(event)
	case "invoice.payment_failed":
		return h.handleInvoicePaymentFailed(event)
	default:
		h.logger.Info("webhook: ignoring event", "event", event.ID, "type", event.Type)
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if sess.Subscription == nil {
		// One-time payment sessions carry no subscription; nothing to track.
		h.logger.Warn("webhook: checkout session has no subscription", "event", event.ID, "session", sess.ID)
		return nil
	}

	amount, _ := strconv.ParseFloat(sess.Metadata["amount"], 64)
	activation := model.CheckoutActivation{
		SubscriptionID: sess.Subscription.ID,
		UserID:         sess.Metadata["user_id"],
		PlanID:         sess.Metadata["plan_id"],
		PlanName:       sess.Metadata["plan_name"],
		Amount:         amount,
	}
	if sess.Customer != nil {
		activation.CustomerID = sess.Customer.ID
	}

	if err := h.store.ActivateFromCheckout(event.ID, activation); err != nil {
		return err
	}
	h.logger.Info("webhook: checkout completed", "event", event.ID, "subscription", activation.SubscriptionID)
	return nil
}

func (h *WebhookHandler) handleSubscriptionChanged(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	if err := h.store.UpsertSubscription(event.ID, sub.ID, string(sub.Status), sub.CancelAtPeriodEnd); err != nil {
		return err
	}
	h.logger.Info("webhook: subscription changed", "event", event.ID, "subscription", sub.ID, "status", sub.Status)
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	endedAt := time.Now().UTC()
	if sub.CancelAt > 0 {
		endedAt = time.Unix(sub.CancelAt, 0).UTC()
	}

	if err := h.store.MarkSubscriptionCanceled(event.ID, sub.ID, endedAt); err != nil {
		return err
	}
	h.logger.Info("webhook: subscription deleted", "event", event.ID, "subscription", sub.ID)
	return nil
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func (h *WebhookHandler) handleInvoicePaid(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		h.logger.Warn("webhook: invoice has no subscription", "event", event.ID, "invoice", invoice.ID)
		return nil
	}

	periodEnd := time.Unix(invoice.PeriodEnd, 0).UTC()
	if err := h.store.RecordInvoicePaid(event.ID, subID, periodEnd); err != nil {
		return err
	}
	h.logger.Info("webhook: invoice paid", "event", event.ID, "subscription", subID, "period_end", periodEnd)
	return nil
}

func (h *WebhookHandler) handleInvoicePaymentFailed(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return nil
	}

	if err := h.store.RecordInvoiceFailed(event.ID, subID); err != nil {
		return err
	}
	h.logger.Info("webhook: invoice payment failed", "event", event.ID, "subscription", subID)
	return nil
}
