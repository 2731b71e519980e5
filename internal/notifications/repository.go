// Package notifications maintains the live, ordered notification feed and its read state.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
)

// Repository defines the interface for notification data access.
type Repository interface {
	// ListNotifications returns the newest rows of the notifications table.
	ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
	ListActiveNews(ctx context.Context, limit int) ([]domain.News, error)
	ListProducts(ctx context.Context, limit int) ([]domain.Product, error)

	// MarkAsRead sets is_read for one row. Returns ErrNotificationNotFound when no row matches.
	MarkAsRead(ctx context.Context, id string) error
	// MarkAllAsRead sets is_read on every unread row and returns how many changed.
	MarkAllAsRead(ctx context.Context) (int64, error)
}

// CursorStore persists the per-viewer "last seen" timestamp of the cursor read model.
type CursorStore interface {
	// GetLastSeen returns the zero time when the viewer has never marked the feed read.
	GetLastSeen(ctx context.Context, viewerID string) (time.Time, error)
	SetLastSeen(ctx context.Context, viewerID string, at time.Time) error
}
