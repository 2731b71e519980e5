// Package postgres provides PostgreSQL implementations of the notification feed backend.
package postgres

import (
	"context"
	"fmt"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListNotifications returns the newest notifications first.
func (r *Repository) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	query := `
		SELECT id, COALESCE(title, ''), COALESCE(content, ''), type, COALESCE(target_id::text, ''), is_read, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Notification, error) {
		var n domain.Notification
		err := row.Scan(&n.ID, &n.Title, &n.Content, &n.Type, &n.TargetID, &n.IsRead, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	return items, nil
}

// ListActiveNews returns the newest active news first.
func (r *Repository) ListActiveNews(ctx context.Context, limit int) ([]domain.News, error) {
	query := `
		SELECT id, title, description, is_active, created_at
		FROM news
		WHERE is_active = true
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}

	news, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.News, error) {
		var n domain.News
		err := row.Scan(&n.ID, &n.Title, &n.Description, &n.IsActive, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan news: %w", err)
	}
	return news, nil
}

// ListProducts returns the newest products first.
func (r *Repository) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	query := `
		SELECT id, name, price, created_at
		FROM products
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		var p domain.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}

// MarkAsRead sets is_read on one notification. Already-read rows still count as a match.
func (r *Repository) MarkAsRead(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// MarkAllAsRead sets is_read on every unread notification.
func (r *Repository) MarkAllAsRead(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE is_read = false`)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}
