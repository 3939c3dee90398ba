package config

import (
	"fmt"
	"os"

	"github.com/calebmartin/applywise/internal/billing/model"
)

// Config holds everything the billing service reads from the environment.
// The Stripe secrets are mandatory: without them the service refuses to start
// rather than failing on the first request.
type Config struct {
	Port    string
	DBPath  string
	BaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string

	// PlanPrices maps a plan identifier to its trusted Stripe price ID.
	// Client-supplied price IDs are only accepted when they match this map.
	PlanPrices map[string]string
}

func Load() (*Config, error) {
	port := os.Getenv("BILLING_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("BILLING_DB_PATH")
	if dbPath == "" {
		dbPath = "billing.db"
	}

	baseURL := os.Getenv("BILLING_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	if secretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is not set")
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is not set")
	}

	return &Config{
		Port:                port,
		DBPath:              dbPath,
		BaseURL:             baseURL,
		StripeSecretKey:     secretKey,
		StripeWebhookSecret: webhookSecret,
		PlanPrices: map[string]string{
			model.PlanWeekly:    os.Getenv("STRIPE_WEEKLY_PRICE_ID"),
			model.PlanMonthly:   os.Getenv("STRIPE_MONTHLY_PRICE_ID"),
			model.PlanQuarterly: os.Getenv("STRIPE_QUARTERLY_PRICE_ID"),
		},
	}, nil
}

// PriceIDForPlan resolves a plan identifier to its trusted price ID.
// Unknown plans and plans with no configured price resolve to ok=false.
func (c *Config) PriceIDForPlan(planID string) (string, bool) {
	priceID, ok := c.PlanPrices[planID]
	if !ok || priceID == "" {
		return "", false
	}
	return priceID, true
}

// SuccessURL is where the processor redirects the browser after payment.
// The placeholder is substituted by the processor with the session ID.
func (c *Config) SuccessURL() string {
	return c.BaseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is where the processor redirects when the user backs out.
func (c *Config) CancelURL() string {
	return c.BaseURL + "/pricing"
}
