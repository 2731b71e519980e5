package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Tables that carry live inserts.
const (
	TableNotifications = "notifications"
	TableNews          = "news"
	TableProducts      = "products"
)

// Title prefixes of catalog-derived feed items.
const (
	newsTitlePrefix    = "📰 "
	productTitlePrefix = "🍹 Món mới: "
)

// SourceKind selects where feed items come from.
type SourceKind string

// Source kinds.
const (
	SourceCombined SourceKind = "combined"
	SourceCatalog  SourceKind = "catalog"
)

// Source reads feed items from the backend and decodes live inserts.
type Source interface {
	Kind() SourceKind
	// Tables lists the collections whose inserts feed this source.
	Tables() []string
	Fetch(ctx context.Context, limit int) ([]domain.Notification, error)
	// Decode converts an inserted row into a feed item.
	// ok is false for rows that are valid but do not belong in the feed.
	Decode(table string, payload []byte) (item domain.Notification, ok bool, err error)
}

// NewSource creates the source of the given kind.
func NewSource(kind SourceKind, repo Repository) (Source, error) {
	v := validator.New()
	switch kind {
	case SourceCombined:
		return &combinedSource{repo: repo, validator: v}, nil
	case SourceCatalog:
		return &catalogSource{repo: repo, validator: v}, nil
	default:
		return nil, fmt.Errorf("unknown notification source: %q", kind)
	}
}

// combinedSource reads the notifications table.
type combinedSource struct {
	repo      Repository
	validator *validator.Validate
}

func (s *combinedSource) Kind() SourceKind { return SourceCombined }

func (s *combinedSource) Tables() []string { return []string{TableNotifications} }

func (s *combinedSource) Fetch(ctx context.Context, limit int) ([]domain.Notification, error) {
	items, err := s.repo.ListNotifications(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

func (s *combinedSource) Decode(table string, payload []byte) (domain.Notification, bool, error) {
	if table != TableNotifications {
		return domain.Notification{}, false, fmt.Errorf("%w: %s", ErrUnknownStream, table)
	}

	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Notification{}, false, fmt.Errorf("decode notification: %w", err)
	}
	if err := s.validator.Struct(n); err != nil {
		return domain.Notification{}, false, fmt.Errorf("validate notification: %w", err)
	}
	return n, true, nil
}

// catalogSource merges active news and products.
type catalogSource struct {
	repo      Repository
	validator *validator.Validate
}

func (s *catalogSource) Kind() SourceKind { return SourceCatalog }

func (s *catalogSource) Tables() []string { return []string{TableNews, TableProducts} }

func (s *catalogSource) Fetch(ctx context.Context, limit int) ([]domain.Notification, error) {
	news, err := s.repo.ListActiveNews(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	products, err := s.repo.ListProducts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	merged := make([]domain.Notification, 0, len(news)+len(products))
	for i := range news {
		merged = append(merged, newsItem(&news[i]))
	}
	for i := range products {
		merged = append(merged, productItem(&products[i]))
	}
	sortNewestFirst(merged)

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *catalogSource) Decode(table string, payload []byte) (domain.Notification, bool, error) {
	switch table {
	case TableNews:
		var n domain.News
		if err := json.Unmarshal(payload, &n); err != nil {
			return domain.Notification{}, false, fmt.Errorf("decode news: %w", err)
		}
		if err := s.validator.Struct(n); err != nil {
			return domain.Notification{}, false, fmt.Errorf("validate news: %w", err)
		}
		if !n.IsActive {
			return domain.Notification{}, false, nil
		}
		return newsItem(&n), true, nil

	case TableProducts:
		var p domain.Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.Notification{}, false, fmt.Errorf("decode product: %w", err)
		}
		if err := s.validator.Struct(p); err != nil {
			return domain.Notification{}, false, fmt.Errorf("validate product: %w", err)
		}
		return productItem(&p), true, nil

	default:
		return domain.Notification{}, false, fmt.Errorf("%w: %s", ErrUnknownStream, table)
	}
}

func newsItem(n *domain.News) domain.Notification {
	item := domain.Notification{
		ID:        n.ID,
		Title:     newsTitlePrefix + n.Title,
		Type:      domain.NotificationTypeNews,
		TargetID:  n.ID,
		CreatedAt: n.CreatedAt,
	}
	if n.Description != nil {
		item.Content = *n.Description
	}
	return item
}

func productItem(p *domain.Product) domain.Notification {
	return domain.Notification{
		ID:        p.ID,
		Title:     productTitlePrefix + p.Name,
		Type:      domain.NotificationTypeProduct,
		TargetID:  p.ID,
		CreatedAt: p.CreatedAt,
	}
}

// sortNewestFirst orders items by created_at descending, keeping the input order of ties.
func sortNewestFirst(items []domain.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
