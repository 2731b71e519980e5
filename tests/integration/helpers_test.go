//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/notifications"
	"github.com/bissquit/cafe-storefront/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	eventuallyWait = 10 * time.Second
	eventuallyTick = 100 * time.Millisecond
)

// asAdmin returns a client acting as a store administrator.
func asAdmin(t *testing.T, client *testutil.Client) *testutil.Client {
	t.Helper()
	return client.As(t, testTokens, uuid.NewString(), domain.RoleAdmin)
}

// uniqueCode returns a voucher code no other test uses.
func uniqueCode(prefix string) string {
	return strings.ToUpper(fmt.Sprintf("%s%s", prefix, uuid.NewString()[:8]))
}

type voucherOption func(map[string]any)

func withMinOrder(v int64) voucherOption {
	return func(m map[string]any) { m["min_order_value"] = v }
}

func forNewUsers() voucherOption {
	return func(m map[string]any) { m["for_new_user"] = true }
}

func inactive() voucherOption {
	return func(m map[string]any) { m["is_active"] = false }
}

// createVoucher creates a voucher through the admin API and returns it.
func createVoucher(t *testing.T, code, title, discountType string, value int64, opts ...voucherOption) domain.Voucher {
	t.Helper()

	payload := map[string]any{
		"code":           code,
		"title":          title,
		"discount_type":  discountType,
		"discount_value": value,
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := asAdmin(t, newTestClient(t)).POST("/api/v1/vouchers", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create voucher %s", code)

	var result struct {
		Data domain.Voucher `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// completeOrder stores a completed order for userID, making them a returning customer.
func completeOrder(t *testing.T, userID string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO orders (user_id, status, total_price) VALUES ($1, 'completed', 45000)`, userID)
	require.NoError(t, err)
}

// addToCart stores a cart line for userID.
func addToCart(t *testing.T, userID string, quantity int, totalPrice int64) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO cart_items (user_id, product_id, quantity, total_price) VALUES ($1, $2, $3, $4)`,
		userID, uuid.NewString(), quantity, totalPrice)
	require.NoError(t, err)
}

// insertNews publishes a news item and returns its id.
func insertNews(t *testing.T, title string, active bool) string {
	t.Helper()
	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO news (title, description, is_active) VALUES ($1, $2, $3) RETURNING id`,
		title, "Khuyến mãi cuối tuần", active).Scan(&id)
	require.NoError(t, err)
	return id
}

// insertProduct adds a menu item and returns its id.
func insertProduct(t *testing.T, name string, price int64) string {
	t.Helper()
	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO products (name, price) VALUES ($1, $2) RETURNING id`, name, price).Scan(&id)
	require.NoError(t, err)
	return id
}

// getFeed fetches the caller's notification feed.
func getFeed(t *testing.T, client *testutil.Client) notifications.Feed {
	t.Helper()
	feed, err := fetchFeed(client)
	require.NoError(t, err)
	return feed
}

func fetchFeed(client *testutil.Client) (notifications.Feed, error) {
	resp, err := client.GET("/api/v1/me/notifications")
	if err != nil {
		return notifications.Feed{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return notifications.Feed{}, fmt.Errorf("get feed: status %d", resp.StatusCode)
	}

	var result struct {
		Data notifications.Feed `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return notifications.Feed{}, fmt.Errorf("decode feed: %w", err)
	}
	return result.Data, nil
}

// findByTitle returns the feed item with title, if present.
func findByTitle(feed notifications.Feed, title string) (domain.Notification, bool) {
	for _, item := range feed.Items {
		if item.Title == title {
			return item, true
		}
	}
	return domain.Notification{}, false
}

// waitForItem polls the feed until an item titled title shows up.
func waitForItem(t *testing.T, client *testutil.Client, title string) domain.Notification {
	t.Helper()
	var found domain.Notification
	require.Eventually(t, func() bool {
		feed, err := fetchFeed(client)
		if err != nil {
			return false
		}
		item, ok := findByTitle(feed, title)
		found = item
		return ok
	}, eventuallyWait, eventuallyTick, "feed item %q never arrived", title)
	return found
}
