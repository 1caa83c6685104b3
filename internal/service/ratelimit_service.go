package service

import (
	"context"
	"fmt"
	"time"

	"app/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimitResult is the outcome of a limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitService enforces per-user fixed-window request limits in Redis.
// Redis being down must never take chat down with it, so any Redis error
// resolves to allow.
type RateLimitService struct {
	rdb       *redis.Client
	usageRepo repository.UsageRepository
	window    time.Duration
	logger    zerolog.Logger
}

// NewRateLimitService creates a RateLimitService with a scoped logger.
// usageRepo may be nil to disable the analytics trail.
func NewRateLimitService(rdb *redis.Client, usageRepo repository.UsageRepository, window time.Duration, logger zerolog.Logger) *RateLimitService {
	return &RateLimitService{
		rdb:       rdb,
		usageRepo: usageRepo,
		window:    window,
		logger:    logger.With().Str("service", "RateLimitService").Logger(),
	}
}

// Check consumes one unit of the user's budget for the current window and
// reports whether the request may proceed.
func (s *RateLimitService) Check(ctx context.Context, tier, userID string, limit int) RateLimitResult {
	now := time.Now()
	windowStart := now.Truncate(s.window)
	resetAt := windowStart.Add(s.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", tier, userID, windowStart.Unix())

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Redis rate limit check failed; allowing request")
		return RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	count := int(incr.Val())
	result := RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}

	if result.Allowed && s.usageRepo != nil {
		// Analytics write happens off the request path; a failure there is
		// not the caller's problem.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.usageRepo.RecordEvent(ctx, userID, "chat_message"); err != nil {
				s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record usage event")
			}
		}()
	}
	return result
}
