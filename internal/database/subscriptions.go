package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Alias1177/Correlator/models"
)

// UpsertSubscription creates or updates the billing state of an API consumer
func (db *DB) UpsertSubscription(ctx context.Context, s models.Subscription) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO subscriptions (
			email, customer_id, subscription_id, tier, active, current_period_end, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email)
		DO UPDATE SET
			customer_id = excluded.customer_id,
			subscription_id = excluded.subscription_id,
			tier = excluded.tier,
			active = excluded.active,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`),
		s.Email, s.CustomerID, s.SubscriptionID, s.Tier, s.Active, s.CurrentPeriodEnd.UTC(), s.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}
	return nil
}

// Subscription retrieves a consumer's subscription by email
func (db *DB) Subscription(ctx context.Context, email string) (models.Subscription, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var s models.Subscription
	err := db.GetContext(ctx, &s, db.q("SELECT * FROM subscriptions WHERE email = ?"), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, ErrNotFound
		}
		return models.Subscription{}, fmt.Errorf("querying subscription: %w", err)
	}
	return s, nil
}

// DeactivateSubscription closes the subscription with the given Stripe id
func (db *DB) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	res, err := db.ExecContext(ctx, db.q(`
		UPDATE subscriptions SET active = ?, updated_at = ? WHERE subscription_id = ?`),
		false, time.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("deactivating subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
