package resync

import (
	"context"
	"database/sql"
	"time"

	"app/internal/config"
	"app/internal/polar"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// Run starts the resync orchestrator. It sweeps stale subscriptions once
// immediately, then every 24 hours until the context is canceled.
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, db *sql.DB) error {
	subRepo := repository.NewSubscriptionRepo(db)
	userRepo := repository.NewUserRepo(db)
	polarClient := polar.NewClient(cfg.PolarAccessToken, cfg.PolarServer, logger)
	subSvc := service.NewSubscriptionService(subRepo, polarClient, time.Duration(cfg.SyncIntervalMinutes)*time.Minute, logger)
	sweepSvc := service.NewSweepService(
		subRepo,
		userRepo,
		subSvc,
		time.Duration(cfg.ResyncStaleAfterHours)*time.Hour,
		time.Duration(cfg.ResyncThrottleMs)*time.Millisecond,
		time.Duration(cfg.RepairWindowMinutes)*time.Minute,
		logger,
	)

	logger.Info().Msg("Starting resync orchestrator")

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if result, err := sweepSvc.RunDailyResync(ctx); err != nil {
			logger.Error().Err(err).Msg("Resync sweep run failed")
		} else {
			logger.Info().Int("synced", result.Synced).Int("recovered", result.Recovered).Msg("Resync sweep run complete")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down resync orchestrator")
			return nil
		case <-ticker.C:
		}
	}
}
