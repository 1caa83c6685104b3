package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UsageRepository records user actions for offline analytics. Enforcement of
// rate limits happens in Redis; these rows are the durable audit trail.
type UsageRepository interface {
	RecordEvent(ctx context.Context, userID, eventType string) error
	// CountEventsInTimeRange counts events of the given type in [start, end).
	CountEventsInTimeRange(ctx context.Context, userID, eventType string, start, end time.Time) (int, error)
}

type usageRepo struct {
	db *sql.DB
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(db *sql.DB) UsageRepository {
	return &usageRepo{db: db}
}

func (r *usageRepo) RecordEvent(ctx context.Context, userID, eventType string) error {
	const q = `INSERT INTO usage_events (user_id, event_type) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, q, userID, eventType); err != nil {
		return fmt.Errorf("recording %s event for user %s: %w", eventType, userID, err)
	}
	return nil
}

// CountEventsInTimeRange counts events of the given type in [start, end).
func (r *usageRepo) CountEventsInTimeRange(ctx context.Context, userID, eventType string, start, end time.Time) (int, error) {
	var count int
	const q = `
        SELECT COUNT(*)
        FROM usage_events
        WHERE user_id = $1
          AND event_type = $2
          AND created_at >= $3
          AND created_at < $4
    `
	if err := r.db.QueryRowContext(ctx, q, userID, eventType, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s events for user %s: %w", eventType, userID, err)
	}
	return count, nil
}
