package handler

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/calebmartin/applywise/internal/billing/model"
	billingstripe "github.com/calebmartin/applywise/internal/billing/stripe"
)

// PaymentClient is the slice of the processor API the checkout flow needs.
// The production implementation is billingstripe.Client.
type PaymentClient interface {
	GetPrice(id string) (*stripe.Price, error)
	CreateCheckoutSession(req billingstripe.SessionRequest) (*stripe.CheckoutSession, error)
}

type CheckoutHandler struct {
	payments   PaymentClient
	planPrices map[string]string
	baseURL    string
	logger     *slog.Logger
}

func NewCheckoutHandler(pc PaymentClient, planPrices map[string]string, baseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		payments:   pc,
		planPrices: planPrices,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// CreateCheckoutSession validates an upgrade request against server-trusted
// configuration and the processor's own price record, then opens a checkout
// session. All validation happens before any call that spends money or an
// API quota.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != h.baseURL {
		h.logger.Warn("checkout rejected: bad origin", "origin", origin, "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "Origin not allowed")
		return
	}

	var req model.CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if !h.validateShape(req) {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	// Never trust the client's priceId: resolve the plan to the configured
	// price and require the two to agree.
	trustedPriceID, ok := h.planPrices[req.PlanID]
	if !ok || trustedPriceID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.PriceID != trustedPriceID {
		h.logger.Warn("checkout rejected: price id mismatch",
			"plan", req.PlanID, "claimed_price", req.PriceID, "user", req.UserID)
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	price, err := h.payments.GetPrice(trustedPriceID)
	if err != nil {
		h.logger.Error("price lookup failed", "price", trustedPriceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if price.UnitAmount <= 0 {
		// Metered or tiered prices carry no unit amount and cannot be
		// amount-verified; treat as a configuration problem, not a zero price.
		h.logger.Error("price has no unit amount", "price", trustedPriceID)
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if int64(math.Round(req.Amount*100)) != price.UnitAmount {
		h.logger.Warn("checkout rejected: amount mismatch",
			"plan", req.PlanID, "claimed", req.Amount, "actual_minor", price.UnitAmount, "user", req.UserID)
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	sess, err := h.payments.CreateCheckoutSession(billingstripe.SessionRequest{
		CustomerID: req.StripeCustomerID,
		PriceID:    trustedPriceID,
		PlanID:     req.PlanID,
		PlanName:   req.PlanName,
		UserID:     req.UserID,
		Amount:     req.Amount,
	})
	if err != nil {
		h.logger.Error("create checkout session", "plan", req.PlanID, "user", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	h.logger.Info("checkout session created", "session", sess.ID, "plan", req.PlanID, "user", req.UserID)
	writeJSON(w, http.StatusOK, map[string]string{
		"url":       sess.URL,
		"sessionId": sess.ID,
	})
}

func (h *CheckoutHandler) validateShape(req model.CheckoutRequest) bool {
	switch req.PlanID {
	case model.PlanWeekly, model.PlanMonthly, model.PlanQuarterly:
	default:
		return false
	}
	if req.Amount <= 0 {
		return false
	}
	return req.PriceID != "" && req.PlanName != "" && req.UserID != "" && req.StripeCustomerID != ""
}
