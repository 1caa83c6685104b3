package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/config"
	"app/internal/model"
	"app/internal/pgmq"
	"app/internal/polar"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// PolarService manages the Polar integration: checkout session creation and
// the webhook ingestor that applies billing events to the entitlement store.
type PolarService struct {
	cfg      *config.Config
	client   polar.Client
	userRepo repository.UserRepository
	subSvc   SubscriptionService
	queue    *pgmq.Client
	logger   zerolog.Logger
}

// NewPolarService returns the service with a scoped logger. queue may be nil;
// dropped webhook events are then only logged, not parked.
func NewPolarService(cfg *config.Config, client polar.Client, userRepo repository.UserRepository, subSvc SubscriptionService, queue *pgmq.Client, logger zerolog.Logger) *PolarService {
	return &PolarService{
		cfg:      cfg,
		client:   client,
		userRepo: userRepo,
		subSvc:   subSvc,
		queue:    queue,
		logger:   logger.With().Str("service", "PolarService").Logger(),
	}
}

// CheckoutProduct pairs a public slug with the configured Polar product id.
type CheckoutProduct struct {
	ProductID string
	Slug      string
}

// Products returns the purchasable catalog for the configured pricing mode.
func (s *PolarService) Products() []CheckoutProduct {
	if s.cfg.PricingMode == "ltd" {
		return []CheckoutProduct{{ProductID: s.cfg.PolarProLTDProductID, Slug: "pro-ltd"}}
	}
	return []CheckoutProduct{
		{ProductID: s.cfg.PolarProMonthlyProduct, Slug: "pro-monthly"},
		{ProductID: s.cfg.PolarProAnnualProduct, Slug: "pro-annual"},
	}
}

// CreateCheckoutSession creates a Polar checkout for the given product slug.
// The user id travels as the external customer id so webhooks can resolve the
// purchase back to the user.
func (s *PolarService) CreateCheckoutSession(ctx context.Context, userID, slug string) (string, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for checkout session")
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("user not found: %s", userID)
	}

	var productID string
	for _, p := range s.Products() {
		if p.Slug == slug {
			productID = p.ProductID
			break
		}
	}
	if productID == "" {
		return "", fmt.Errorf("invalid product slug: %s", slug)
	}

	checkout, err := s.client.CreateCheckout(ctx, polar.CreateCheckoutParams{
		Products:           []string{productID},
		CustomerEmail:      user.Email,
		ExternalCustomerID: userID,
		SuccessURL:         s.cfg.AppBaseURL + "/dashboard?checkout=success",
	})
	if err != nil {
		s.logger.Error().Err(err).Str("slug", slug).Msg("Failed to create Polar checkout")
		return "", fmt.Errorf("create checkout: %w", err)
	}
	return checkout.URL, nil
}

// resolveUserID maps a webhook's customer record to a local user id. The
// external id should carry our user id; when the provider has not linked it
// yet we fall back to the customer email.
func (s *PolarService) resolveUserID(ctx context.Context, customer polar.Customer) (string, error) {
	if customer.ExternalID != nil && *customer.ExternalID != "" {
		return *customer.ExternalID, nil
	}
	if customer.Email == "" {
		return "", errors.New("customer has no external id and no email")
	}
	s.logger.Warn().Str("polar_customer_id", customer.ID).Msg("Customer has no external id; resolving by email")
	user, err := s.userRepo.GetUserByEmail(ctx, customer.Email)
	if err != nil {
		return "", fmt.Errorf("lookup user by email: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("no user found for customer %s", customer.ID)
	}
	return user.UserID, nil
}

// parkDeadLetter records a terminally dropped event on the webhook DLQ for
// offline inspection. Best effort: a park failure is logged and discarded.
func (s *PolarService) parkDeadLetter(ctx context.Context, event *polar.Event, reason string) {
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":   event.Type,
		"reason": reason,
		"data":   event.Data,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal dead-letter payload")
		return
	}
	if err := s.queue.Send(ctx, s.cfg.WebhookDLQQueueName, payload); err != nil {
		s.logger.Error().Err(err).Str("queue", s.cfg.WebhookDLQQueueName).Msg("Failed to park webhook event on DLQ")
	}
}

// HandleWebhook processes Polar webhook events. Events that cannot be applied
// (unresolvable user, missing product) are dropped with a 200: retrying them
// cannot succeed, and the repair sweeps are the safety net.
func (s *PolarService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Polar webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	event, err := polar.ParseEvent(r.Header, payload, s.cfg.PolarWebhookSecret, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Rejected Polar webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	s.logger.Info().Str("event_type", event.Type).Msg("Polar webhook received")

	ctx := r.Context()
	switch event.Type {
	case polar.EventOrderPaid:
		if err := s.applyOrderPaid(ctx, event); err != nil {
			http.Error(w, "failed to apply order", http.StatusInternalServerError)
			return
		}
	case polar.EventSubscriptionCreated:
		if err := s.applySubscriptionCreated(ctx, event); err != nil {
			http.Error(w, "failed to apply subscription", http.StatusInternalServerError)
			return
		}
	case polar.EventSubscriptionUpdated:
		if err := s.applySubscriptionUpdated(ctx, event); err != nil {
			http.Error(w, "failed to update subscription", http.StatusInternalServerError)
			return
		}
	case polar.EventSubscriptionCanceled:
		if err := s.applySubscriptionCanceled(ctx, event); err != nil {
			http.Error(w, "failed to cancel subscription", http.StatusInternalServerError)
			return
		}
	default:
		s.logger.Warn().Str("event_type", event.Type).Msg("Unhandled Polar webhook event")
	}
	w.WriteHeader(http.StatusOK)
}

// applyOrderPaid upserts a lifetime entitlement for a one-time purchase.
func (s *PolarService) applyOrderPaid(ctx context.Context, event *polar.Event) error {
	var order polar.Order
	if err := json.Unmarshal(event.Data, &order); err != nil {
		s.logger.Error().Err(err).Msg("Invalid order.paid payload")
		return err
	}

	userID, err := s.resolveUserID(ctx, order.Customer)
	if err != nil {
		s.logger.Error().Err(err).Str("polar_customer_id", order.Customer.ID).Str("order_id", order.ID).Msg("Cannot resolve user for paid order; dropping event")
		s.parkDeadLetter(ctx, event, "unresolvable user")
		return nil
	}
	if order.Product == nil {
		s.logger.Error().Str("order_id", order.ID).Msg("Paid order carries no product; dropping event")
		s.parkDeadLetter(ctx, event, "missing product")
		return nil
	}

	return s.subSvc.Upsert(ctx, repository.UpsertSubscriptionParams{
		UserID:          userID,
		PolarCustomerID: order.Customer.ID,
		PolarOrderID:    &order.ID,
		PolarProductID:  order.Product.ID,
		BillingType:     model.BillingOneTime,
		Status:          model.StatusActive,
	})
}

// applySubscriptionCreated upserts a recurring entitlement.
func (s *PolarService) applySubscriptionCreated(ctx context.Context, event *polar.Event) error {
	var sub polar.Subscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		s.logger.Error().Err(err).Msg("Invalid subscription.created payload")
		return err
	}

	userID, err := s.resolveUserID(ctx, sub.Customer)
	if err != nil {
		s.logger.Error().Err(err).Str("polar_customer_id", sub.Customer.ID).Str("subscription_id", sub.ID).Msg("Cannot resolve user for subscription; dropping event")
		s.parkDeadLetter(ctx, event, "unresolvable user")
		return nil
	}
	if sub.Product == nil {
		s.logger.Error().Str("subscription_id", sub.ID).Msg("Subscription carries no product; dropping event")
		s.parkDeadLetter(ctx, event, "missing product")
		return nil
	}

	return s.subSvc.Upsert(ctx, repository.UpsertSubscriptionParams{
		UserID:              userID,
		PolarCustomerID:     sub.Customer.ID,
		PolarSubscriptionID: &sub.ID,
		PolarProductID:      sub.Product.ID,
		BillingType:         model.BillingRecurring,
		Status:              MapPolarStatus(sub.Status),
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:   sub.CancelAtPeriodEnd,
	})
}

// applySubscriptionUpdated updates status and period fields in place, located
// by the provider's subscription id. No matching row is a silent no-op.
func (s *PolarService) applySubscriptionUpdated(ctx context.Context, event *polar.Event) error {
	var sub polar.Subscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		s.logger.Error().Err(err).Msg("Invalid subscription.updated payload")
		return err
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	return s.subSvc.UpdateBySubscriptionID(ctx, repository.UpdateSubscriptionParams{
		PolarSubscriptionID: sub.ID,
		Status:              MapPolarStatus(sub.Status),
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:   &cancelAtPeriodEnd,
	})
}

// applySubscriptionCanceled marks the row CANCELED. Access persists until the
// stored period end; the period fields are deliberately left untouched.
func (s *PolarService) applySubscriptionCanceled(ctx context.Context, event *polar.Event) error {
	var sub polar.Subscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		s.logger.Error().Err(err).Msg("Invalid subscription.canceled payload")
		return err
	}

	return s.subSvc.UpdateBySubscriptionID(ctx, repository.UpdateSubscriptionParams{
		PolarSubscriptionID: sub.ID,
		Status:              model.StatusCanceled,
	})
}
