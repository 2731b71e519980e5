// Package postgres provides PostgreSQL implementation of the vouchers repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/vouchers"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const voucherColumns = `id, code, title, description, discount_type, discount_value,
	min_order_value, for_new_user, max_usage_per_user, is_active, created_at`

// Repository implements vouchers.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListActiveVouchers returns all active vouchers ordered by title.
func (r *Repository) ListActiveVouchers(ctx context.Context) ([]domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE is_active = true
		ORDER BY title, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active vouchers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Voucher, 0)
	for rows.Next() {
		var v domain.Voucher
		if err := scanVoucher(rows, &v); err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vouchers: %w", err)
	}
	return result, nil
}

// GetActiveVoucherByCode retrieves an active voucher by its code.
func (r *Repository) GetActiveVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE code = $1 AND is_active = true
	`
	var v domain.Voucher
	if err := scanVoucher(r.db.QueryRow(ctx, query, code), &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vouchers.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher by code: %w", err)
	}
	return &v, nil
}

// CreateVoucher inserts a voucher and fills its generated fields.
func (r *Repository) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	query := `
		INSERT INTO vouchers (code, title, description, discount_type, discount_value,
			min_order_value, for_new_user, max_usage_per_user, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		v.Code,
		v.Title,
		v.Description,
		v.DiscountType,
		v.DiscountValue,
		v.MinOrderValue,
		v.ForNewUser,
		v.MaxUsagePerUser,
		v.IsActive,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return vouchers.ErrVoucherCodeExists
		}
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

// CountCompletedOrders counts the user's completed orders.
func (r *Repository) CountCompletedOrders(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, domain.OrderStatusCompleted).Scan(&count); err != nil {
		return 0, fmt.Errorf("count completed orders: %w", err)
	}
	return count, nil
}

// GetCartSummary sums the user's cart items. An empty cart yields zero totals.
func (r *Repository) GetCartSummary(ctx context.Context, userID string) (*domain.CartSummary, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)::bigint, COALESCE(SUM(total_price), 0)::bigint
		FROM cart_items
		WHERE user_id = $1
	`
	summary := domain.CartSummary{UserID: userID}
	if err := r.db.QueryRow(ctx, query, userID).Scan(&summary.TotalQty, &summary.TotalPrice); err != nil {
		return nil, fmt.Errorf("get cart summary: %w", err)
	}
	return &summary, nil
}

func scanVoucher(row pgx.Row, v *domain.Voucher) error {
	return row.Scan(
		&v.ID,
		&v.Code,
		&v.Title,
		&v.Description,
		&v.DiscountType,
		&v.DiscountValue,
		&v.MinOrderValue,
		&v.ForNewUser,
		&v.MaxUsagePerUser,
		&v.IsActive,
		&v.CreatedAt,
	)
}
