package vouchers

import "errors"

// Service errors.
var (
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrVoucherNotEligible = errors.New("voucher is not applicable to this cart")
	ErrVoucherCodeExists  = errors.New("voucher code already exists")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInvalidCode        = errors.New("voucher code is empty")
)
