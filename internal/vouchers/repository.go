// Package vouchers decides which vouchers a user may apply and what they are worth.
package vouchers

import (
	"context"

	"github.com/bissquit/cafe-storefront/internal/domain"
)

// Repository defines the interface for voucher data access.
type Repository interface {
	// ListActiveVouchers returns vouchers with is_active = true.
	ListActiveVouchers(ctx context.Context) ([]domain.Voucher, error)
	GetActiveVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error)
	CreateVoucher(ctx context.Context, voucher *domain.Voucher) error

	// CountCompletedOrders counts orders of the user with status completed.
	CountCompletedOrders(ctx context.Context, userID string) (int, error)
	GetCartSummary(ctx context.Context, userID string) (*domain.CartSummary, error)
}
