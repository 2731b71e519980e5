// Package postgres provides PostgreSQL implementation for catalog repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cafe-storefront/internal/catalog"
	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements catalog.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateNews inserts a news item.
func (r *Repository) CreateNews(ctx context.Context, news *domain.News) error {
	query := `
		INSERT INTO news (title, description, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, news.Title, news.Description, news.IsActive).
		Scan(&news.ID, &news.CreatedAt)
	if err != nil {
		return fmt.Errorf("create news: %w", err)
	}
	return nil
}

// SetNewsActive updates the visibility of a news item and returns it.
func (r *Repository) SetNewsActive(ctx context.Context, id string, active bool) (*domain.News, error) {
	query := `
		UPDATE news SET is_active = $2
		WHERE id = $1
		RETURNING id, title, description, is_active, created_at
	`
	var news domain.News
	err := r.db.QueryRow(ctx, query, id, active).Scan(
		&news.ID,
		&news.Title,
		&news.Description,
		&news.IsActive,
		&news.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNewsNotFound
		}
		return nil, fmt.Errorf("set news active: %w", err)
	}
	return &news, nil
}

// CreateProduct inserts a menu item.
func (r *Repository) CreateProduct(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (name, price)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, product.Name, product.Price).
		Scan(&product.ID, &product.CreatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}
