package dto

import "time"

// SubscriptionCheckoutRequest selects the product to purchase by its public
// slug (pro-ltd, pro-monthly, pro-annual).
type SubscriptionCheckoutRequest struct {
	Slug string `json:"slug" validate:"required"`
}

// AccessStatusResponse is the access decision returned to clients.
type AccessStatusResponse struct {
	HasAccess      bool       `json:"has_access"`
	Status         string     `json:"status"`
	BillingType    *string    `json:"billing_type,omitempty"`
	IsLifetime     bool       `json:"is_lifetime"`
	PolarProductID *string    `json:"polar_product_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}
