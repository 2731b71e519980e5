package vouchers

import (
	"math"
	"testing"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name      string
		voucher   domain.Voucher
		cartTotal int64
		want      int64
	}{
		{
			name:      "percent of round total",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 10},
			cartTotal: 25000,
			want:      2500,
		},
		{
			name:      "percent exact",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 33},
			cartTotal: 100,
			want:      33,
		},
		{
			name:      "percent rounds down",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 33},
			cartTotal: 10,
			want:      3,
		},
		{
			name:      "percent never rounds up",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 15},
			cartTotal: 99,
			want:      14,
		},
		{
			name:      "percent of empty cart",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 50},
			cartTotal: 0,
			want:      0,
		},
		{
			name:      "percent of huge total",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 10},
			cartTotal: 1 << 60,
			want:      115292150460684697,
		},
		{
			name:      "percent of max total",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 10},
			cartTotal: math.MaxInt64,
			want:      922337203685477580,
		},
		{
			name:      "full percent of max total",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypePercent, DiscountValue: 100},
			cartTotal: math.MaxInt64,
			want:      math.MaxInt64,
		},
		{
			name:      "fixed below total",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypeFixed, DiscountValue: 20000},
			cartTotal: 100000,
			want:      20000,
		},
		{
			name:      "fixed exceeds total and is not clamped",
			voucher:   domain.Voucher{DiscountType: domain.DiscountTypeFixed, DiscountValue: 50000},
			cartTotal: 10000,
			want:      50000,
		},
		{
			name:      "unknown type",
			voucher:   domain.Voucher{DiscountType: "bogus", DiscountValue: 10},
			cartTotal: 1000,
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateDiscount(tt.voucher, tt.cartTotal))
		})
	}
}

func TestPayable(t *testing.T) {
	assert.Equal(t, int64(80000), Payable(100000, 20000))
	assert.Equal(t, int64(0), Payable(10000, 50000))
	assert.Equal(t, int64(0), Payable(10000, 10000))
}
