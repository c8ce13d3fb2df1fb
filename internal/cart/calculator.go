package cart

import (
	"time"

	"github.com/commercekit/storefront/internal/domain"
)

// PricedLine is a cart line with its unit price already resolved against
// the catalog (variant override or product price), in cents.
type PricedLine struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
}

// CouponResult reports whether a coupon contributed a discount and, when
// it did not, why. Invalid coupons are never silently dropped.
type CouponResult struct {
	Code   string `json:"code"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type Totals struct {
	Subtotal int64         `json:"subtotal"`
	Discount int64         `json:"discount"`
	Total    int64         `json:"total"`
	Coupon   *CouponResult `json:"coupon,omitempty"`
}

// ValidateCoupon checks a coupon against the clock and the purchasing
// user without touching any store.
func ValidateCoupon(coupon *domain.Coupon, userID string, now time.Time) CouponResult {
	result := CouponResult{Code: coupon.Code}

	switch {
	case !coupon.Active:
		result.Reason = "coupon is inactive"
	case now.After(coupon.ExpiresAt):
		result.Reason = "coupon has expired"
	case coupon.MaxUses != nil && coupon.CurrentUses >= *coupon.MaxUses:
		result.Reason = "coupon usage limit reached"
	case coupon.UserID != nil && *coupon.UserID != userID:
		result.Reason = "coupon is not valid for this user"
	default:
		result.Valid = true
	}

	return result
}

// ComputeTotals derives subtotal, discount, and total for the given
// lines. Prices are integer cents, so the percentage discount floors to
// two decimal places by construction. The total never goes negative.
func ComputeTotals(lines []PricedLine, coupon *domain.Coupon, userID string, now time.Time) Totals {
	var subtotal int64
	for _, line := range lines {
		subtotal += int64(line.Quantity) * line.UnitPrice
	}

	totals := Totals{Subtotal: subtotal, Total: subtotal}
	if coupon == nil {
		return totals
	}

	result := ValidateCoupon(coupon, userID, now)
	totals.Coupon = &result
	if !result.Valid {
		return totals
	}

	percent := int64(coupon.DiscountPercent)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	totals.Discount = subtotal * percent / 100
	totals.Total = subtotal - totals.Discount
	if totals.Total < 0 {
		totals.Total = 0
	}

	return totals
}
