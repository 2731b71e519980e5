package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CursorStore implements notifications.CursorStore on the notification_cursors table.
type CursorStore struct {
	db *pgxpool.Pool
}

// NewCursorStore creates a new PostgreSQL cursor store.
func NewCursorStore(db *pgxpool.Pool) *CursorStore {
	return &CursorStore{db: db}
}

// GetLastSeen returns the viewer's cursor, or the zero time if none is stored.
func (s *CursorStore) GetLastSeen(ctx context.Context, viewerID string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(ctx,
		`SELECT last_seen_at FROM notification_cursors WHERE viewer_id = $1`, viewerID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}
	return ts, nil
}

// SetLastSeen stores the viewer's cursor. It never moves a cursor backwards.
func (s *CursorStore) SetLastSeen(ctx context.Context, viewerID string, at time.Time) error {
	query := `
		INSERT INTO notification_cursors (viewer_id, last_seen_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (viewer_id) DO UPDATE
		SET last_seen_at = GREATEST(notification_cursors.last_seen_at, EXCLUDED.last_seen_at),
		    updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, viewerID, at); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
