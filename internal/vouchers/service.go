package vouchers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FallbackPolicy decides new-user eligibility when completed orders cannot be counted.
type FallbackPolicy string

// Fallback policies.
const (
	// FallbackGrant treats a failed count as zero orders.
	FallbackGrant FallbackPolicy = "grant"
	FallbackDeny  FallbackPolicy = "deny"
)

// Config holds voucher service settings.
type Config struct {
	QueryTimeout   time.Duration
	NewUserOnError FallbackPolicy
}

// Service implements voucher eligibility and discount logic. It keeps no state between calls.
type Service struct {
	repo   Repository
	config Config
}

// NewService creates a new voucher service.
func NewService(repo Repository, config Config) *Service {
	if config.NewUserOnError == "" {
		config.NewUserOnError = FallbackGrant
	}
	return &Service{
		repo:   repo,
		config: config,
	}
}

// AvailableVoucher is an eligible voucher with its discount for the given cart.
type AvailableVoucher struct {
	domain.Voucher
	Discount int64 `json:"discount"`
}

// Quote is the price of a cart after applying a voucher.
type Quote struct {
	Voucher   domain.Voucher `json:"voucher"`
	CartTotal int64          `json:"cart_total"`
	Discount  int64          `json:"discount"`
	Payable   int64          `json:"payable"`
}

// CreateVoucherInput holds data for creating a voucher.
type CreateVoucherInput struct {
	Code            string
	Title           string
	Description     *string
	DiscountType    domain.DiscountType
	DiscountValue   int64
	MinOrderValue   *int64
	ForNewUser      bool
	MaxUsagePerUser int
	IsActive        *bool
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// IsNewUser reports whether the user has no completed orders.
// A failed count is resolved by the configured fallback policy.
func (s *Service) IsNewUser(ctx context.Context, userID string) bool {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.repo.CountCompletedOrders(qctx, userID)
	if err != nil {
		granted := s.config.NewUserOnError == FallbackGrant
		ctxlog.FromContext(ctx).Warn("completed orders count failed, applying fallback",
			"user_id", userID,
			"policy", s.config.NewUserOnError,
			"is_new_user", granted,
			"error", err,
		)
		recordFallback(s.config.NewUserOnError)
		return granted
	}

	return count == 0
}

// LoadAvailableVouchers returns the active vouchers the user may apply to a cart of cartTotal,
// ordered by title then id. A failed fetch yields an empty list.
func (s *Service) LoadAvailableVouchers(ctx context.Context, userID string, cartTotal int64) []domain.Voucher {
	qctx, cancel := s.withTimeout(ctx)
	active, err := s.repo.ListActiveVouchers(qctx)
	cancel()
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to list active vouchers", "error", err)
		listFailures.Inc()
		return []domain.Voucher{}
	}

	isNew := s.IsNewUser(ctx, userID)

	result := make([]domain.Voucher, 0, len(active))
	for i := range active {
		if active[i].IsEligible(isNew, cartTotal) {
			result = append(result, active[i])
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Title != result[j].Title {
			return result[i].Title < result[j].Title
		}
		return result[i].ID < result[j].ID
	})

	return result
}

// ListForCart returns eligible vouchers together with their discounts.
func (s *Service) ListForCart(ctx context.Context, userID string, cartTotal int64) []AvailableVoucher {
	eligible := s.LoadAvailableVouchers(ctx, userID, cartTotal)

	out := make([]AvailableVoucher, 0, len(eligible))
	for _, v := range eligible {
		out = append(out, AvailableVoucher{Voucher: v, Discount: CalculateDiscount(v, cartTotal)})
	}
	return out
}

// CartTotal returns the sum of the user's cart item totals.
func (s *Service) CartTotal(ctx context.Context, userID string) (int64, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	summary, err := s.repo.GetCartSummary(qctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get cart summary: %w", err)
	}
	return summary.TotalPrice, nil
}

// Quote prices a cart of cartTotal with the voucher identified by code.
func (s *Service) Quote(ctx context.Context, userID, code string, cartTotal int64) (*Quote, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	qctx, cancel := s.withTimeout(ctx)
	voucher, err := s.repo.GetActiveVoucherByCode(qctx, code)
	cancel()
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			recordQuote("not_found")
			return nil, err
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	if !voucher.IsEligible(s.IsNewUser(ctx, userID), cartTotal) {
		recordQuote("not_eligible")
		return nil, ErrVoucherNotEligible
	}

	discount := CalculateDiscount(*voucher, cartTotal)
	recordQuote("ok")

	return &Quote{
		Voucher:   *voucher,
		CartTotal: cartTotal,
		Discount:  discount,
		Payable:   Payable(cartTotal, discount),
	}, nil
}

// CreateVoucher validates input and stores a new voucher.
func (s *Service) CreateVoucher(ctx context.Context, input CreateVoucherInput) (*domain.Voucher, error) {
	code := normalizeCode(input.Code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	if !input.DiscountType.IsValid() {
		return nil, fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, input.DiscountType)
	}
	if input.DiscountValue < 0 {
		return nil, fmt.Errorf("%w: value must not be negative", ErrInvalidDiscount)
	}
	if input.DiscountType == domain.DiscountTypePercent && input.DiscountValue > 100 {
		return nil, fmt.Errorf("%w: percent value must not exceed 100", ErrInvalidDiscount)
	}
	if input.MinOrderValue != nil && *input.MinOrderValue < 0 {
		return nil, fmt.Errorf("%w: min order value must not be negative", ErrInvalidDiscount)
	}

	maxUsage := input.MaxUsagePerUser
	if maxUsage <= 0 {
		maxUsage = 1
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	voucher := &domain.Voucher{
		Code:            code,
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		DiscountType:    input.DiscountType,
		DiscountValue:   input.DiscountValue,
		MinOrderValue:   input.MinOrderValue,
		ForNewUser:      input.ForNewUser,
		MaxUsagePerUser: maxUsage,
		IsActive:        isActive,
	}

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.repo.CreateVoucher(qctx, voucher); err != nil {
		if errors.Is(err, ErrVoucherCodeExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create voucher: %w", err)
	}

	return voucher, nil
}

// normalizeCode trims and upper-cases a voucher code. A Caser keeps state, so one is made per call.
func normalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}
