package service

import (
	"context"
	"strings"
	"time"

	"app/internal/model"
	"app/internal/polar"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// MapPolarStatus translates the provider's status vocabulary into our closed
// enum. Unknown strings map to ACTIVE: when the provider introduces a status
// we do not know, we prefer granting access over wrongly revoking it.
func MapPolarStatus(polarStatus string) model.SubscriptionStatus {
	switch strings.ToLower(polarStatus) {
	case "active":
		return model.StatusActive
	case "canceled", "cancelled":
		return model.StatusCanceled
	case "past_due":
		return model.StatusPastDue
	case "trialing":
		return model.StatusTrialing
	default:
		return model.StatusActive
	}
}

// SubscriptionService owns the entitlement record: webhook-driven writes, the
// pull-based API reconciler, and the access decision consumed by every
// protected route.
type SubscriptionService interface {
	// GetAccessStatus is the synchronous access-control decision. It never
	// returns an error; any failure resolves to a deny.
	GetAccessStatus(ctx context.Context, userID string) model.AccessStatus
	// SyncFromPolar re-derives the entitlement directly from the provider API
	// and writes the result to the store. The returned error reports provider
	// or storage failure; in that case last_synced_at is NOT advanced, so the
	// next access check retries instead of waiting out the sync interval.
	SyncFromPolar(ctx context.Context, userID, polarCustomerID string) (model.AccessStatus, error)
	// RecoverPolarCustomerID looks the customer up by external id and persists
	// the recovered id. Returns nil when the customer does not exist at the
	// provider or on any error.
	RecoverPolarCustomerID(ctx context.Context, userID string) *string

	Upsert(ctx context.Context, p repository.UpsertSubscriptionParams) error
	UpdateBySubscriptionID(ctx context.Context, p repository.UpdateSubscriptionParams) error
}

type subscriptionService struct {
	repo         repository.SubscriptionRepository
	polarClient  polar.Client
	syncInterval time.Duration
	logger       zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped
// logger. syncInterval paces the smart fallback re-verification.
func NewSubscriptionService(repo repository.SubscriptionRepository, polarClient polar.Client, syncInterval time.Duration, logger zerolog.Logger) SubscriptionService {
	return &subscriptionService{
		repo:         repo,
		polarClient:  polarClient,
		syncInterval: syncInterval,
		logger:       logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

// GetAccessStatus reads the stored row and applies the smart fallback:
// access-granting state is trusted blindly (webhooks revoke it promptly),
// while access-denying state for a known billing customer is re-verified
// against the provider at most once per sync interval. The failure mode being
// guarded against is "webhook lost, paying customer wrongly locked out".
func (s *subscriptionService) GetAccessStatus(ctx context.Context, userID string) model.AccessStatus {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription; denying access")
		return model.NoAccess()
	}
	if sub == nil {
		// Unknown user cannot be a paying customer; no API call.
		return model.NoAccess()
	}

	hasAccess := sub.HasAccess()

	if !hasAccess && sub.PolarCustomerID != nil && *sub.PolarCustomerID != "" {
		needsSync := sub.LastSyncedAt == nil || time.Since(*sub.LastSyncedAt) > s.syncInterval
		if needsSync {
			s.logger.Info().Str("user_id", userID).Msg("Local state denies access; verifying with Polar API")
			status, err := s.SyncFromPolar(ctx, userID, *sub.PolarCustomerID)
			if err != nil {
				s.logger.Error().Err(err).Str("user_id", userID).Msg("Polar sync failed during access check")
				return model.NoAccess()
			}
			return status
		}
	}

	return statusFromRow(sub, hasAccess)
}

func statusFromRow(sub *model.Subscription, hasAccess bool) model.AccessStatus {
	billingType := sub.BillingType
	return model.AccessStatus{
		HasAccess:      hasAccess,
		Status:         sub.Status,
		BillingType:    &billingType,
		IsLifetime:     billingType == model.BillingOneTime,
		PolarProductID: sub.PolarProductID,
		ExpiresAt:      sub.CurrentPeriodEnd,
	}
}

// SyncFromPolar asks the provider for the customer's current paid state and
// makes the store match: active subscriptions first, then paid one-time
// orders, otherwise no access.
func (s *subscriptionService) SyncFromPolar(ctx context.Context, userID, polarCustomerID string) (model.AccessStatus, error) {
	subs, err := s.polarClient.ListActiveSubscriptions(ctx, polarCustomerID)
	if err != nil {
		return model.NoAccess(), err
	}

	if len(subs) > 0 && subs[0].Product != nil {
		sub := subs[0]
		status := MapPolarStatus(sub.Status)
		err := s.repo.Upsert(ctx, repository.UpsertSubscriptionParams{
			UserID:              userID,
			PolarCustomerID:     polarCustomerID,
			PolarSubscriptionID: &sub.ID,
			PolarProductID:      sub.Product.ID,
			BillingType:         model.BillingRecurring,
			Status:              status,
			CurrentPeriodEnd:    sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:   sub.CancelAtPeriodEnd,
		})
		if err != nil {
			return model.NoAccess(), err
		}
		if err := s.repo.UpdateLastSyncedAt(ctx, userID, time.Now()); err != nil {
			return model.NoAccess(), err
		}

		billingType := model.BillingRecurring
		productID := sub.Product.ID
		return model.AccessStatus{
			HasAccess:      status == model.StatusActive || status == model.StatusTrialing,
			Status:         status,
			BillingType:    &billingType,
			IsLifetime:     false,
			PolarProductID: &productID,
			ExpiresAt:      sub.CurrentPeriodEnd,
		}, nil
	}

	orders, err := s.polarClient.ListOrders(ctx, polarCustomerID)
	if err != nil {
		return model.NoAccess(), err
	}
	for _, order := range orders {
		if !order.Paid || order.Product == nil {
			continue
		}
		err := s.repo.Upsert(ctx, repository.UpsertSubscriptionParams{
			UserID:          userID,
			PolarCustomerID: polarCustomerID,
			PolarOrderID:    &order.ID,
			PolarProductID:  order.Product.ID,
			BillingType:     model.BillingOneTime,
			Status:          model.StatusActive,
		})
		if err != nil {
			return model.NoAccess(), err
		}
		if err := s.repo.UpdateLastSyncedAt(ctx, userID, time.Now()); err != nil {
			return model.NoAccess(), err
		}

		billingType := model.BillingOneTime
		productID := order.Product.ID
		return model.AccessStatus{
			HasAccess:      true,
			Status:         model.StatusActive,
			BillingType:    &billingType,
			IsLifetime:     true,
			PolarProductID: &productID,
		}, nil
	}

	// Nothing paid at the provider. Still stamp last_synced_at so repeated
	// no-access checks do not hammer the API.
	if err := s.repo.UpdateLastSyncedAt(ctx, userID, time.Now()); err != nil {
		return model.NoAccess(), err
	}
	return model.NoAccess(), nil
}

// RecoverPolarCustomerID handles rows created by a webhook that raced ahead of
// customer-id propagation.
func (s *subscriptionService) RecoverPolarCustomerID(ctx context.Context, userID string) *string {
	customer, err := s.polarClient.GetCustomerByExternalID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to recover polar customer id")
		return nil
	}
	if err := s.repo.UpdateCustomerID(ctx, userID, customer.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to store recovered polar customer id")
		return nil
	}
	s.logger.Info().Str("user_id", userID).Str("polar_customer_id", customer.ID).Msg("Recovered polar customer id")
	return &customer.ID
}

func (s *subscriptionService) Upsert(ctx context.Context, p repository.UpsertSubscriptionParams) error {
	if err := s.repo.Upsert(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("user_id", p.UserID).Str("status", string(p.Status)).Msg("Failed to upsert subscription")
		return err
	}
	return nil
}

func (s *subscriptionService) UpdateBySubscriptionID(ctx context.Context, p repository.UpdateSubscriptionParams) error {
	if err := s.repo.UpdateBySubscriptionID(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("polar_subscription_id", p.PolarSubscriptionID).Msg("Failed to update subscription")
		return err
	}
	return nil
}
