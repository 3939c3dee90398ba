package stripe

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SessionLifetime is the hard expiry on every checkout session. Unused
// sessions expire processor-side; there is no cancellation API.
const SessionLifetime = 30 * time.Minute

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// SessionRequest describes one validated checkout to open with Stripe.
type SessionRequest struct {
	CustomerID string
	PriceID    string
	PlanID     string
	PlanName   string
	UserID     string
	Amount     float64
}

// GetPrice fetches the authoritative price record by ID.
func (c *Client) GetPrice(id string) (*stripe.Price, error) {
	p, err := price.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get price %s: %w", id, err)
	}
	return p, nil
}

// CreateCheckoutSession opens a subscription-mode checkout session with a
// 30-minute expiry and plan metadata attached to both the session and the
// subscription it will create.
func (c *Client) CreateCheckoutSession(req SessionRequest) (*stripe.CheckoutSession, error) {
	sess, err := checksession.New(c.sessionParams(req, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func (c *Client) sessionParams(req SessionRequest, now time.Time) *stripe.CheckoutSessionParams {
	metadata := map[string]string{
		"plan_id":    req.PlanID,
		"plan_name":  req.PlanName,
		"user_id":    req.UserID,
		"amount":     strconv.FormatFloat(req.Amount, 'f', 2, 64),
		"created_at": now.UTC().Format(time.RFC3339),
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
		ExpiresAt:  stripe.Int64(now.Add(SessionLifetime).Unix()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	params.SetIdempotencyKey(uuid.NewString())
	return params
}

// ConstructWebhookEvent verifies the signature over the raw payload bytes and
// returns the parsed event. Verification failure means the payload is not
// trusted and must not be inspected further.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}
