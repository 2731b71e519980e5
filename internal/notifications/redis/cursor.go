// Package redis provides a Redis implementation of the notification cursor store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "storefront:notifications:last_seen:"

// advanceScript stores ARGV[1] unless the key already holds a later value.
// Values are unix microseconds, which stay exact as Lua numbers.
var advanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Connect creates a client from a redis:// URL or a host:port address and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CursorStore implements notifications.CursorStore with one string key per viewer.
type CursorStore struct {
	client redis.Cmdable
}

// NewCursorStore creates a new Redis cursor store.
func NewCursorStore(client redis.Cmdable) *CursorStore {
	return &CursorStore{client: client}
}

// GetLastSeen returns the viewer's cursor, or the zero time if none is stored.
func (s *CursorStore) GetLastSeen(ctx context.Context, viewerID string) (time.Time, error) {
	raw, err := s.client.Get(ctx, key(viewerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}

	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return time.UnixMicro(micros).UTC(), nil
}

// SetLastSeen stores the viewer's cursor. It never moves a cursor backwards.
func (s *CursorStore) SetLastSeen(ctx context.Context, viewerID string, at time.Time) error {
	err := advanceScript.Run(ctx, s.client, []string{key(viewerID)}, at.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func key(viewerID string) string {
	return keyPrefix + viewerID
}
