package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmartin/applywise/internal/billing/model"
)

// SubscriptionStore reconciles webhook events into local subscription state.
// Every mutation is keyed by the processor-assigned event ID: applying the
// same event twice is a no-op, which makes at-least-once, possibly reordered
// webhook delivery safe.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// applyOnce runs fn inside a transaction, but only if eventID has not been
// applied before. Replays commit nothing and return nil.
func (s *SubscriptionStore) applyOnce(eventID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO processed_events (id) VALUES (?) ON CONFLICT(id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Already applied; at-least-once delivery replay.
		return nil
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivateFromCheckout marks the subscription created by a completed checkout
// session as active, creating the local record if the session-completed event
// arrives before any subscription event.
func (s *SubscriptionStore) ActivateFromCheckout(eventID string, a model.CheckoutActivation) error {
	return s.applyOnce(eventID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO subscriptions (stripe_subscription_id, stripe_customer_id, user_id, plan, plan_name, amount, status)
			 VALUES (?, ?, ?, ?, ?, ?, 'active')
			 ON CONFLICT(stripe_subscription_id) DO UPDATE SET
				stripe_customer_id = excluded.stripe_customer_id,
				user_id = excluded.user_id,
				plan = excluded.plan,
				plan_name = excluded.plan_name,
				amount = excluded.amount,
				status = 'active',
				updated_at = CURRENT_TIMESTAMP`,
			a.SubscriptionID, a.CustomerID, a.UserID, a.PlanID, a.PlanName, a.Amount,
		)
		if err != nil {
			return fmt.Errorf("activate subscription %s: %w", a.SubscriptionID, err)
		}
		return nil
	})
}

// UpsertSubscription records the processor's view of a subscription's status.
func (s *SubscriptionStore) UpsertSubscription(eventID, subscriptionID, status string, cancelAtPeriodEnd bool) error {
	return s.applyOnce(eventID, func(tx *sql.Tx) error {
		var cancel int
		if cancelAtPeriodEnd {
			cancel = 1
		}
		_, err := tx.Exec(
			`INSERT INTO subscriptions (stripe_subscription_id, status, cancel_at_period_end)
			 VALUES (?, ?, ?)
			 ON CONFLICT(stripe_subscription_id) DO UPDATE SET
				status = excluded.status,
				cancel_at_period_end = excluded.cancel_at_period_end,
				updated_at = CURRENT_TIMESTAMP`,
			subscriptionID, status, cancel,
		)
		if err != nil {
			return fmt.Errorf("upsert subscription %s: %w", subscriptionID, err)
		}
		return nil
	})
}

// MarkSubscriptionCanceled marks a subscription canceled as of endedAt.
func (s *SubscriptionStore) MarkSubscriptionCanceled(eventID, subscriptionID string, endedAt time.Time) error {
	return s.applyOnce(eventID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO subscriptions (stripe_subscription_id, status, current_period_end)
			 VALUES (?, 'canceled', ?)
			 ON CONFLICT(stripe_subscription_id) DO UPDATE SET
				status = 'canceled',
				current_period_end = excluded.current_period_end,
				updated_at = CURRENT_TIMESTAMP`,
			subscriptionID, endedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
		}
		return nil
	})
}

// RecordInvoicePaid extends the billing period and reactivates the
// subscription if a prior payment failure had parked it.
func (s *SubscriptionStore) RecordInvoicePaid(eventID, subscriptionID string, periodEnd time.Time) error {
	return s.applyOnce(eventID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO subscriptions (stripe_subscription_id, status, current_period_end)
			 VALUES (?, 'active', ?)
			 ON CONFLICT(stripe_subscription_id) DO UPDATE SET
				status = 'active',
				current_period_end = excluded.current_period_end,
				updated_at = CURRENT_TIMESTAMP`,
			subscriptionID, periodEnd.UTC(),
		)
		if err != nil {
			return fmt.Errorf("record invoice paid for %s: %w", subscriptionID, err)
		}
		return nil
	})
}

// RecordInvoiceFailed parks the subscription as past_due until the processor
// reports a successful retry or a cancellation.
func (s *SubscriptionStore) RecordInvoiceFailed(eventID, subscriptionID string) error {
	return s.applyOnce(eventID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO subscriptions (stripe_subscription_id, status)
			 VALUES (?, 'past_due')
			 ON CONFLICT(stripe_subscription_id) DO UPDATE SET
				status = 'past_due',
				updated_at = CURRENT_TIMESTAMP`,
			subscriptionID,
		)
		if err != nil {
			return fmt.Errorf("record invoice failed for %s: %w", subscriptionID, err)
		}
		return nil
	})
}

const subscriptionCols = `stripe_subscription_id, stripe_customer_id, user_id, plan, plan_name, amount, status, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var periodEnd sql.NullTime
	var cancelAtPeriodEnd int
	err := scanner.Scan(
		&sub.StripeSubscriptionID, &sub.StripeCustomerID, &sub.UserID,
		&sub.Plan, &sub.PlanName, &sub.Amount, &sub.Status,
		&periodEnd, &cancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	return &sub, nil
}

func (s *SubscriptionStore) GetByStripeID(subscriptionID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		subscriptionID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByUserID(userID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by user id: %w", err)
	}
	return sub, nil
}
