package model

import "time"

// Plan is the product tier granted to a user.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// SubscriptionStatus is the closed set of statuses stored in the database.
// StatusNone is derived, never persisted: it means "no subscription row".
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusCanceled SubscriptionStatus = "CANCELED"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
	StatusTrialing SubscriptionStatus = "TRIALING"
	StatusNone     SubscriptionStatus = "NONE"
)

// BillingType distinguishes recurring subscriptions from one-time (lifetime) purchases.
type BillingType string

const (
	BillingRecurring BillingType = "recurring"
	BillingOneTime   BillingType = "one_time"
)

// Subscription is the local entitlement record, one row per user.
// PolarSubscriptionID is set for recurring billing, PolarOrderID for one-time
// purchases; whichever billing event wrote the row last wins.
type Subscription struct {
	ID                  string             `db:"id" json:"id"`
	UserID              string             `db:"user_id" json:"user_id"`
	PolarCustomerID     *string            `db:"polar_customer_id" json:"polar_customer_id,omitempty"`
	PolarSubscriptionID *string            `db:"polar_subscription_id" json:"polar_subscription_id,omitempty"`
	PolarOrderID        *string            `db:"polar_order_id" json:"polar_order_id,omitempty"`
	PolarProductID      *string            `db:"polar_product_id" json:"polar_product_id,omitempty"`
	BillingType         BillingType        `db:"billing_type" json:"billing_type"`
	Plan                Plan               `db:"plan" json:"plan"`
	Status              SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodEnd    *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd   bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	LastSyncedAt        *time.Time         `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// HasAccess reports whether the stored status grants paid access.
func (s *Subscription) HasAccess() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// AccessStatus is the resolved answer to "does this user have paid access".
// It is what every protected route consumes.
type AccessStatus struct {
	HasAccess      bool               `json:"has_access"`
	Status         SubscriptionStatus `json:"status"`
	BillingType    *BillingType       `json:"billing_type,omitempty"`
	IsLifetime     bool               `json:"is_lifetime"`
	PolarProductID *string            `json:"polar_product_id,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
}

// NoAccess is the status returned for users with no subscription row.
func NoAccess() AccessStatus {
	return AccessStatus{HasAccess: false, Status: StatusNone}
}
