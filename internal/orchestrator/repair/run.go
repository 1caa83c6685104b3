package repair

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

// Run starts the repair orchestrator: every repair interval it gives recently
// created users without an entitlement row a default FREE one.
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

	interval := time.Duration(cfg.RepairIntervalMinutes) * time.Minute
	logger.Info().Dur("interval", interval).Msg("Starting repair orchestrator")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if result, err := sweepSvc.RunRepair(ctx); err != nil {
			logger.Error().Err(err).Msg("Repair sweep run failed")
		} else if result.Checked > 0 {
			logger.Info().Int("checked", result.Checked).Int("recovered", result.Recovered).Msg("Repair sweep run complete")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down repair orchestrator")
			return nil
		case <-ticker.C:
		}
	}
}
