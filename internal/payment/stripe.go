// Package payment sells the pro API tier through Stripe checkout.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/models"
)

// TierPro is the paid API tier
const TierPro = "pro"

var (
	// ErrDisabled is returned when no Stripe key is configured
	ErrDisabled = errors.New("billing is not configured")
	// ErrIgnoredEvent marks webhook events that need no action
	ErrIgnoredEvent = errors.New("event ignored")
)

// Store keeps subscription state
type Store interface {
	UpsertSubscription(ctx context.Context, s models.Subscription) error
	Subscription(ctx context.Context, email string) (models.Subscription, error)
	DeactivateSubscription(ctx context.Context, subscriptionID string) error
}

// Config holds the Stripe credentials and redirect pages
type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// Checkout is a created checkout session
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"checkout_url"`
}

// CheckoutFunc creates a Stripe checkout session
type CheckoutFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// StripeService handles checkout and subscription webhooks
type StripeService struct {
	cfg         Config
	store       Store
	newCheckout CheckoutFunc
	now         func() time.Time
	logger      zerolog.Logger
}

// NewStripeService configures the Stripe client
func NewStripeService(cfg Config, store Store) *StripeService {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &StripeService{
		cfg:         cfg,
		store:       store,
		newCheckout: session.New,
		now:         time.Now,
		logger:      log.With().Str("component", "payment").Logger(),
	}
}

// Enabled reports whether checkout can be offered
func (s *StripeService) Enabled() bool {
	return s.cfg.SecretKey != "" && s.cfg.PriceID != ""
}

// CreateCheckoutSession creates a subscription checkout for the pro tier
func (s *StripeService) CreateCheckoutSession(email string) (*Checkout, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:    stripe.String(s.cfg.SuccessURL),
		CancelURL:     stripe.String(s.cfg.CancelURL),
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{"email": email, "tier": TierPro},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"email": email},
		},
	}
	sess, err := s.newCheckout(params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}
	s.logger.Info().Str("session_id", sess.ID).Str("email", email).Msg("Checkout session created")
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// VerifyWebhookSignature verifies the signature of a Stripe webhook event
func (s *StripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// HandleEvent applies a verified webhook event to the subscription store.
// Unhandled event types return ErrIgnoredEvent.
func (s *StripeService) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("parsing checkout session: %w", err)
		}
		email := sess.Metadata["email"]
		if email == "" && sess.CustomerDetails != nil {
			email = sess.CustomerDetails.Email
		}
		if email == "" {
			return fmt.Errorf("checkout session %s has no email", sess.ID)
		}
		sub := models.Subscription{
			Email:     email,
			Tier:      TierPro,
			Active:    true,
			UpdatedAt: s.now().UTC(),
		}
		if sess.Customer != nil {
			sub.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			sub.SubscriptionID = sess.Subscription.ID
			if sess.Subscription.CurrentPeriodEnd > 0 {
				sub.CurrentPeriodEnd = time.Unix(sess.Subscription.CurrentPeriodEnd, 0).UTC()
			}
		}
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		s.logger.Info().Str("email", email).Str("subscription_id", sub.SubscriptionID).Msg("Subscription activated")
		return nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parsing subscription: %w", err)
		}
		if err := s.store.DeactivateSubscription(ctx, sub.ID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				s.logger.Warn().Str("subscription_id", sub.ID).Msg("Deleted subscription is unknown")
				return nil
			}
			return err
		}
		s.logger.Info().Str("subscription_id", sub.ID).Msg("Subscription closed")
		return nil
	}
	s.logger.Debug().Str("type", string(event.Type)).Msg("Unhandled event type")
	return fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
}

// Tier returns the tier of an API subject: pro with an active subscription, empty otherwise
func (s *StripeService) Tier(ctx context.Context, email string) string {
	sub, err := s.store.Subscription(ctx, email)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.Error().Err(err).Str("email", email).Msg("Subscription lookup failed")
		}
		return ""
	}
	if !sub.Active {
		return ""
	}
	if !sub.CurrentPeriodEnd.IsZero() && sub.CurrentPeriodEnd.Before(s.now()) {
		return ""
	}
	return sub.Tier
}
