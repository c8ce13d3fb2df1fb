package domain

import "time"

// Coupon is a percentage discount code. Codes are stored uppercased and
// looked up case-insensitively.
type Coupon struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ExpiresAt       time.Time `json:"expires_at"`
	Active          bool      `json:"active"`
	// UserID scopes the coupon to a single user when set.
	UserID      *string `json:"user_id,omitempty"`
	MaxUses     *int    `json:"max_uses,omitempty"`
	CurrentUses int     `json:"current_uses"`
}

type CartLine struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
}

type Cart struct {
	UserID string     `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}
