package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
)

// Service implements catalog publishing.
type Service struct {
	repo Repository
}

// NewService creates a new catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateNewsInput holds data for publishing a news item.
type CreateNewsInput struct {
	Title       string
	Description *string
	IsActive    *bool
}

// CreateProductInput holds data for adding a menu item.
type CreateProductInput struct {
	Name  string
	Price int64
}

// CreateNews publishes a news item. Items are active unless stated otherwise; inactive
// items never reach the notification feed.
func (s *Service) CreateNews(ctx context.Context, input CreateNewsInput) (*domain.News, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	news := &domain.News{
		Title:       title,
		Description: input.Description,
		IsActive:    true,
	}
	if input.IsActive != nil {
		news.IsActive = *input.IsActive
	}

	if err := s.repo.CreateNews(ctx, news); err != nil {
		return nil, fmt.Errorf("create news: %w", err)
	}

	ctxlog.FromContext(ctx).Info("news published", "news_id", news.ID, "active", news.IsActive)
	return news, nil
}

// SetNewsActive shows or hides a news item. Feeds built from the notifications table keep
// items that were already announced.
func (s *Service) SetNewsActive(ctx context.Context, id string, active bool) (*domain.News, error) {
	news, err := s.repo.SetNewsActive(ctx, id, active)
	if err != nil {
		return nil, fmt.Errorf("set news active: %w", err)
	}
	return news, nil
}

// CreateProduct adds a menu item.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if input.Price < 0 {
		return nil, ErrInvalidPrice
	}

	product := &domain.Product{Name: name, Price: input.Price}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	ctxlog.FromContext(ctx).Info("product added", "product_id", product.ID)
	return product, nil
}
