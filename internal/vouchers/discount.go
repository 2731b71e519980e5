package vouchers

import "github.com/bissquit/cafe-storefront/internal/domain"

// CalculateDiscount returns the amount a voucher takes off cartTotal.
//
// A percent voucher yields floor(cartTotal * value / 100). A fixed voucher yields its value
// as is, even when that exceeds cartTotal; callers clamp the payable amount.
func CalculateDiscount(v domain.Voucher, cartTotal int64) int64 {
	switch v.DiscountType {
	case domain.DiscountTypePercent:
		if cartTotal <= 0 {
			return 0
		}
		// split on the hundreds so large totals cannot overflow; value is at most 100
		return cartTotal/100*v.DiscountValue + cartTotal%100*v.DiscountValue/100
	case domain.DiscountTypeFixed:
		return v.DiscountValue
	default:
		return 0
	}
}

// Payable is cartTotal minus discount, never below zero.
func Payable(cartTotal, discount int64) int64 {
	if discount >= cartTotal {
		return 0
	}
	return cartTotal - discount
}
