package model

import "time"

// Plan identifiers accepted from clients. Anything else is rejected before
// touching the payment processor.
const (
	PlanWeekly    = "weekly"
	PlanMonthly   = "monthly"
	PlanQuarterly = "quarterly"
)

// CheckoutRequest is the client-submitted intent to upgrade. Every field is
// re-validated server-side; priceId and amount are cross-checked against
// trusted configuration and the processor's own price record.
type CheckoutRequest struct {
	PriceID          string  `json:"priceId"`
	PlanID           string  `json:"planId"`
	PlanName         string  `json:"planName"`
	Amount           float64 `json:"amount"`
	UserID           string  `json:"userId"`
	StripeCustomerID string  `json:"stripeCustomerId"`
}

// CheckoutActivation carries the fields extracted from a completed checkout
// session into the subscription state store.
type CheckoutActivation struct {
	SubscriptionID string
	CustomerID     string
	UserID         string
	PlanID         string
	PlanName       string
	Amount         float64
}

type Subscription struct {
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	UserID               string     `json:"user_id"`
	Plan                 string     `json:"plan"`
	PlanName             string     `json:"plan_name"`
	Amount               float64    `json:"amount"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
