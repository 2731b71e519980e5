package domain

import "time"

// DiscountType represents how a voucher's discount value is interpreted.
type DiscountType string

// Discount types.
const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

// IsValid checks if the discount type is valid.
func (t DiscountType) IsValid() bool {
	return t == DiscountTypePercent || t == DiscountTypeFixed
}

// Voucher is a promotional code with eligibility rules and a discount formula.
// Monetary fields are in the smallest currency unit.
type Voucher struct {
	ID              string       `json:"id"`
	Code            string       `json:"code"`
	Title           string       `json:"title"`
	Description     *string      `json:"description"`
	DiscountType    DiscountType `json:"discount_type"`
	DiscountValue   int64        `json:"discount_value"`
	MinOrderValue   *int64       `json:"min_order_value"`
	ForNewUser      bool         `json:"for_new_user"`
	MaxUsagePerUser int          `json:"max_usage_per_user"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
}

// IsEligible checks the voucher's own rules against a user and cart.
// Activity is filtered by the backend query, not here.
func (v *Voucher) IsEligible(isNewUser bool, cartTotal int64) bool {
	if v.ForNewUser && !isNewUser {
		return false
	}
	if v.MinOrderValue != nil && cartTotal < *v.MinOrderValue {
		return false
	}
	return true
}
