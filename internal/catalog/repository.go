// Package catalog publishes the store's news and menu items. Every insert feeds the
// notification stream through database triggers.
package catalog

import (
	"context"
	"errors"

	"github.com/bissquit/cafe-storefront/internal/domain"
)

// Catalog errors.
var (
	ErrNewsNotFound = errors.New("news not found")
	ErrInvalidPrice = errors.New("price must not be negative")
	ErrEmptyName    = errors.New("name is required")
	ErrEmptyTitle   = errors.New("title is required")
)

// Repository defines the interface for catalog data operations.
type Repository interface {
	CreateNews(ctx context.Context, news *domain.News) error
	SetNewsActive(ctx context.Context, id string, active bool) (*domain.News, error)
	CreateProduct(ctx context.Context, product *domain.Product) error
}
