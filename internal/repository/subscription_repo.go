package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/google/uuid"
)

// UpsertSubscriptionParams carries the fields written by a billing event or an
// API sync. The upsert is keyed on user_id: on conflict every identifier is
// overwritten with the incoming values, so the last event received wins. A
// one-time purchase therefore clears a previous recurring subscription id and
// vice versa.
type UpsertSubscriptionParams struct {
	UserID              string
	PolarCustomerID     string
	PolarSubscriptionID *string
	PolarOrderID        *string
	PolarProductID      string
	BillingType         model.BillingType
	Status              model.SubscriptionStatus
	CurrentPeriodEnd    *time.Time
	CancelAtPeriodEnd   bool
}

// UpdateSubscriptionParams updates an existing row located by the provider's
// subscription id. Nil pointer fields are left unchanged.
type UpdateSubscriptionParams struct {
	PolarSubscriptionID string
	Status              model.SubscriptionStatus
	CurrentPeriodEnd    *time.Time
	CancelAtPeriodEnd   *bool
}

// StaleSubscription is a row selected for the daily resync sweep.
type StaleSubscription struct {
	UserID          string
	PolarCustomerID *string
}

// SubscriptionRepository is the entitlement store: one row per user, mutated
// by webhook upserts and API sync writes, read on every protected request.
type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	GetBySubscriptionID(ctx context.Context, polarSubscriptionID string) (*model.Subscription, error)
	Upsert(ctx context.Context, p UpsertSubscriptionParams) error
	UpdateBySubscriptionID(ctx context.Context, p UpdateSubscriptionParams) error
	// UpdateLastSyncedAt stamps the row as verified against the provider API.
	// Only the API reconciler calls this; webhook writes never advance it.
	UpdateLastSyncedAt(ctx context.Context, userID string, syncedAt time.Time) error
	UpdateCustomerID(ctx context.Context, userID, polarCustomerID string) error
	// InsertDefault creates a FREE/ACTIVE row if the user has none. Returns
	// false when a row already exists (e.g. a webhook won the race).
	InsertDefault(ctx context.Context, userID string) (bool, error)
	// ListStale returns access-granting rows whose last API verification is
	// missing or older than the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]StaleSubscription, error)
}

type subscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `
    id, user_id, polar_customer_id, polar_subscription_id, polar_order_id,
    polar_product_id, billing_type, plan, status, current_period_end,
    cancel_at_period_end, last_synced_at, created_at, updated_at
`

func scanSubscription(row *sql.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PolarCustomerID,
		&s.PolarSubscriptionID,
		&s.PolarOrderID,
		&s.PolarProductID,
		&s.BillingType,
		&s.Plan,
		&s.Status,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.LastSyncedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByUserID returns the user's subscription row, or nil if none exists.
func (r *subscriptionRepo) GetByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for user %s: %w", userID, err)
	}
	return sub, nil
}

// GetBySubscriptionID locates a row by the provider's subscription id.
func (r *subscriptionRepo) GetBySubscriptionID(ctx context.Context, polarSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE polar_subscription_id = $1`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, polarSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", polarSubscriptionID, err)
	}
	return sub, nil
}

// Upsert inserts or overwrites the user's entitlement row. Any paid upsert
// sets plan to PRO.
func (r *subscriptionRepo) Upsert(ctx context.Context, p UpsertSubscriptionParams) error {
	const q = `
        INSERT INTO subscriptions (
            id, user_id, polar_customer_id, polar_subscription_id, polar_order_id,
            polar_product_id, billing_type, plan, status, current_period_end,
            cancel_at_period_end, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'PRO', $8, $9, $10, NOW(), NOW())
        ON CONFLICT (user_id) DO UPDATE
        SET polar_customer_id = EXCLUDED.polar_customer_id,
            polar_subscription_id = EXCLUDED.polar_subscription_id,
            polar_order_id = EXCLUDED.polar_order_id,
            polar_product_id = EXCLUDED.polar_product_id,
            billing_type = EXCLUDED.billing_type,
            plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            current_period_end = EXCLUDED.current_period_end,
            cancel_at_period_end = EXCLUDED.cancel_at_period_end,
            updated_at = NOW();
    `
	_, err := r.db.ExecContext(ctx, q,
		uuid.NewString(),
		p.UserID,
		p.PolarCustomerID,
		p.PolarSubscriptionID,
		p.PolarOrderID,
		p.PolarProductID,
		p.BillingType,
		p.Status,
		p.CurrentPeriodEnd,
		p.CancelAtPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription for user %s: %w", p.UserID, err)
	}
	return nil
}

// UpdateBySubscriptionID updates status and period fields in place. Updating a
// subscription id with no matching row is a no-op: creation events are
// expected to have produced the row already.
func (r *subscriptionRepo) UpdateBySubscriptionID(ctx context.Context, p UpdateSubscriptionParams) error {
	const q = `
        UPDATE subscriptions
        SET status = $2,
            current_period_end = COALESCE($3, current_period_end),
            cancel_at_period_end = COALESCE($4, cancel_at_period_end),
            updated_at = NOW()
        WHERE polar_subscription_id = $1;
    `
	_, err := r.db.ExecContext(ctx, q, p.PolarSubscriptionID, p.Status, p.CurrentPeriodEnd, p.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", p.PolarSubscriptionID, err)
	}
	return nil
}

func (r *subscriptionRepo) UpdateLastSyncedAt(ctx context.Context, userID string, syncedAt time.Time) error {
	const q = `UPDATE subscriptions SET last_synced_at = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, q, userID, syncedAt); err != nil {
		return fmt.Errorf("stamp last_synced_at for user %s: %w", userID, err)
	}
	return nil
}

func (r *subscriptionRepo) UpdateCustomerID(ctx context.Context, userID, polarCustomerID string) error {
	const q = `UPDATE subscriptions SET polar_customer_id = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, q, userID, polarCustomerID); err != nil {
		return fmt.Errorf("store polar customer id for user %s: %w", userID, err)
	}
	return nil
}

// InsertDefault creates the fallback FREE/ACTIVE row used by the repair sweep.
func (r *subscriptionRepo) InsertDefault(ctx context.Context, userID string) (bool, error) {
	const q = `
        INSERT INTO subscriptions (id, user_id, billing_type, plan, status, created_at, updated_at)
        VALUES ($1, $2, 'recurring', 'FREE', 'ACTIVE', NOW(), NOW())
        ON CONFLICT (user_id) DO NOTHING;
    `
	res, err := r.db.ExecContext(ctx, q, uuid.NewString(), userID)
	if err != nil {
		return false, fmt.Errorf("insert default subscription for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert default subscription for user %s: %w", userID, err)
	}
	return n > 0, nil
}

// ListStale selects access-granting rows that need a provider re-check.
func (r *subscriptionRepo) ListStale(ctx context.Context, cutoff time.Time) ([]StaleSubscription, error) {
	const q = `
        SELECT user_id, polar_customer_id
        FROM subscriptions
        WHERE status IN ('ACTIVE', 'TRIALING')
          AND (last_synced_at IS NULL OR last_synced_at < $1)
    `
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale subscriptions: %w", err)
	}
	defer rows.Close()

	var stale []StaleSubscription
	for rows.Next() {
		var s StaleSubscription
		if err := rows.Scan(&s.UserID, &s.PolarCustomerID); err != nil {
			return nil, fmt.Errorf("scan stale subscription: %w", err)
		}
		stale = append(stale, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale subscriptions: %w", err)
	}
	return stale, nil
}
