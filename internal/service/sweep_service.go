package service

import (
	"context"
	"time"

	"app/internal/repository"

	"github.com/rs/zerolog"
)

// ResyncResult reports the outcome of a daily resync run.
type ResyncResult struct {
	Synced    int `json:"synced"`
	Recovered int `json:"recovered"`
}

// RepairResult reports the outcome of a missing-entitlement repair run.
type RepairResult struct {
	Checked   int `json:"checked"`
	Recovered int `json:"recovered"`
}

// SweepService runs the scheduled reconciliation jobs that backstop the
// webhook pipeline: the daily stale resync and the missing-entitlement repair.
type SweepService struct {
	subRepo      repository.SubscriptionRepository
	userRepo     repository.UserRepository
	subSvc       SubscriptionService
	staleAfter   time.Duration
	throttle     time.Duration
	repairWindow time.Duration
	logger       zerolog.Logger
}

// NewSweepService creates a SweepService with a scoped logger. staleAfter is
// the resync cutoff age, throttle the pause between provider calls, and
// repairWindow how far back the repair sweep looks for subscription-less users.
func NewSweepService(subRepo repository.SubscriptionRepository, userRepo repository.UserRepository, subSvc SubscriptionService, staleAfter, throttle, repairWindow time.Duration, logger zerolog.Logger) *SweepService {
	return &SweepService{
		subRepo:      subRepo,
		userRepo:     userRepo,
		subSvc:       subSvc,
		staleAfter:   staleAfter,
		throttle:     throttle,
		repairWindow: repairWindow,
		logger:       logger.With().Str("service", "SweepService").Logger(),
	}
}

// RunDailyResync re-verifies every access-granting row that has not been
// checked against the provider within the cutoff. Rows missing their customer
// id get a recovery attempt first; rows still missing it are skipped. One
// row's failure never stops the sweep, and calls are throttled so a large
// backlog does not hammer the provider API.
func (s *SweepService) RunDailyResync(ctx context.Context) (ResyncResult, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.subRepo.ListStale(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list stale subscriptions")
		return ResyncResult{}, err
	}

	s.logger.Info().Int("count", len(stale)).Time("cutoff", cutoff).Msg("Starting daily resync sweep")

	var result ResyncResult
	for i, row := range stale {
		if i > 0 {
			if err := sleepCtx(ctx, s.throttle); err != nil {
				s.logger.Warn().Err(err).Int("synced", result.Synced).Msg("Resync sweep interrupted")
				return result, err
			}
		}

		customerID := row.PolarCustomerID
		if customerID == nil || *customerID == "" {
			recovered := s.subSvc.RecoverPolarCustomerID(ctx, row.UserID)
			if recovered == nil {
				s.logger.Warn().Str("user_id", row.UserID).Msg("Skipping resync: no polar customer id and recovery failed")
				continue
			}
			customerID = recovered
			result.Recovered++
		}

		if _, err := s.subSvc.SyncFromPolar(ctx, row.UserID, *customerID); err != nil {
			s.logger.Error().Err(err).Str("user_id", row.UserID).Msg("Resync failed for user")
			continue
		}
		result.Synced++
	}

	s.logger.Info().Int("synced", result.Synced).Int("recovered", result.Recovered).Msg("Daily resync sweep finished")
	return result, nil
}

// RunRepair gives recently created users that have no entitlement row at all a
// default FREE one. A lost insert already repaired by a concurrent webhook
// counts as recovered: the goal is that the row exists, not who wrote it.
func (s *SweepService) RunRepair(ctx context.Context) (RepairResult, error) {
	since := time.Now().Add(-s.repairWindow)
	userIDs, err := s.userRepo.ListWithoutSubscription(ctx, since)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users without subscription")
		return RepairResult{}, err
	}

	result := RepairResult{Checked: len(userIDs)}
	for _, userID := range userIDs {
		inserted, err := s.subRepo.InsertDefault(ctx, userID)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to insert default subscription")
			continue
		}
		if !inserted {
			s.logger.Debug().Str("user_id", userID).Msg("Subscription row appeared concurrently; nothing to repair")
		}
		result.Recovered++
	}

	if result.Checked > 0 {
		s.logger.Info().Int("checked", result.Checked).Int("recovered", result.Recovered).Msg("Repair sweep finished")
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
