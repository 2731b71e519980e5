package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo    *mockRepository
	cursors *mockCursorStore
	sub     *mockSubscriber
	agg     *Aggregator
}

func newFixture(t *testing.T, kind SourceKind, cfg AggregatorConfig) *fixture {
	t.Helper()

	f := &fixture{
		repo:    &mockRepository{},
		cursors: newMockCursorStore(),
		sub:     newMockSubscriber(),
	}
	if cfg.FeedLimit == 0 {
		cfg.FeedLimit = 100
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = time.Second
	}

	source, err := NewSource(kind, f.repo)
	require.NoError(t, err)

	f.agg, err = NewAggregator(source, f.repo, f.cursors, f.sub, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.agg.Close() })
	return f
}

func newFlagFixture(t *testing.T, policy WritePolicy) *fixture {
	return newFixture(t, SourceCombined, AggregatorConfig{ReadModel: ReadModelFlag, WritePolicy: policy})
}

func snapshot(t *testing.T, agg *Aggregator, viewer string) Feed {
	t.Helper()
	feed, err := agg.Snapshot(context.Background(), viewer)
	require.NoError(t, err)
	return feed
}

func TestNewAggregator_Validation(t *testing.T) {
	repo := &mockRepository{}
	combined, _ := NewSource(SourceCombined, repo)
	catalog, _ := NewSource(SourceCatalog, repo)
	sub := newMockSubscriber()

	_, err := NewAggregator(catalog, repo, nil, sub, AggregatorConfig{ReadModel: ReadModelFlag, FeedLimit: 10})
	assert.Error(t, err, "flag model needs per-record flags")

	_, err = NewAggregator(combined, repo, nil, sub, AggregatorConfig{ReadModel: ReadModelCursor, FeedLimit: 10})
	assert.Error(t, err, "cursor model needs a store")

	_, err = NewAggregator(combined, repo, nil, sub, AggregatorConfig{ReadModel: ReadModelFlag})
	assert.Error(t, err, "feed limit must be set")

	_, err = NewAggregator(combined, repo, nil, sub, AggregatorConfig{ReadModel: ReadModelFlag, WritePolicy: "later", FeedLimit: 10})
	assert.Error(t, err)

	agg, err := NewAggregator(combined, repo, nil, sub, AggregatorConfig{ReadModel: ReadModelFlag, FeedLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, WriteConfirm, agg.config.WritePolicy)
}

func TestAggregator_FetchSortsAndCounts(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("b", 5, true),
		notification("a", 10, false),
		notification("c", 1, false),
	}

	require.NoError(t, f.agg.Fetch(context.Background()))

	feed := snapshot(t, f.agg, "viewer")
	assert.Equal(t, []string{"a", "b", "c"}, feedIDs(feed))
	assert.Equal(t, 2, feed.UnreadCount)
	assert.Equal(t, 100, f.repo.lastLimit)
}

func TestAggregator_FetchKeepsTieOrder(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("first", 5, false),
		notification("second", 5, false),
		notification("third", 5, false),
	}

	require.NoError(t, f.agg.Fetch(context.Background()))
	assert.Equal(t, []string{"first", "second", "third"}, feedIDs(snapshot(t, f.agg, "v")))
}

func TestAggregator_FetchIsIdempotent(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("a", 3, false),
		notification("b", 2, true),
	}
	ctx := context.Background()

	require.NoError(t, f.agg.Fetch(ctx))
	first := snapshot(t, f.agg, "v")
	require.NoError(t, f.agg.Fetch(ctx))
	second := snapshot(t, f.agg, "v")

	assert.Equal(t, first, second)
}

func TestAggregator_FetchFailureKeepsState(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{notification("a", 1, false)}
	require.NoError(t, f.agg.Fetch(context.Background()))

	f.repo.setErrors(errBackend, nil)
	err := f.agg.Fetch(context.Background())

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, errBackend)
	feed := snapshot(t, f.agg, "v")
	assert.Equal(t, []string{"a"}, feedIDs(feed))
	assert.Equal(t, 1, feed.UnreadCount)
}

func TestAggregator_InsertNewestGoesFirst(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("b", 2, false),
		notification("a", 1, true),
	}
	require.NoError(t, f.agg.Start(context.Background()))
	before := snapshot(t, f.agg, "v").UnreadCount

	f.sub.push(TableNotifications, notification("new", 3, false))

	feed := snapshot(t, f.agg, "v")
	assert.Equal(t, []string{"new", "b", "a"}, feedIDs(feed))
	assert.Equal(t, before+1, feed.UnreadCount)
}

func TestAggregator_InsertOutOfOrderKeepsSorting(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("c", 30, false),
		notification("b", 20, false),
		notification("a", 10, false),
	}
	require.NoError(t, f.agg.Fetch(context.Background()))

	assert.True(t, f.agg.Insert(notification("late", 15, false)))
	assert.True(t, f.agg.Insert(notification("tie", 20, false)))

	assert.Equal(t, []string{"c", "tie", "b", "late", "a"}, feedIDs(snapshot(t, f.agg, "v")))
}

func TestAggregator_InsertDeduplicates(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{notification("a", 1, false)}
	require.NoError(t, f.agg.Fetch(context.Background()))

	assert.False(t, f.agg.Insert(notification("a", 1, false)))

	feed := snapshot(t, f.agg, "v")
	assert.Len(t, feed.Items, 1)
	assert.Equal(t, 1, feed.UnreadCount)
}

func TestAggregator_FeedLimit(t *testing.T) {
	f := newFixture(t, SourceCombined, AggregatorConfig{ReadModel: ReadModelFlag, FeedLimit: 3})
	f.repo.notifications = []domain.Notification{
		notification("c", 3, false),
		notification("b", 2, false),
		notification("a", 1, false),
	}
	require.NoError(t, f.agg.Fetch(context.Background()))

	assert.True(t, f.agg.Insert(notification("d", 4, false)))
	assert.Equal(t, []string{"d", "c", "b"}, feedIDs(snapshot(t, f.agg, "v")))

	assert.False(t, f.agg.Insert(notification("old", 0, false)), "older than a full feed")

	// the evicted key may come back
	assert.True(t, f.agg.Insert(notification("a", 5, false)))
	assert.Equal(t, []string{"a", "d", "c"}, feedIDs(snapshot(t, f.agg, "v")))
}

func TestAggregator_InvalidInsertIsDropped(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))

	f.sub.pushRaw(TableNotifications, []byte(`{"id":"x","type":"coupon","created_at":"2025-03-01T12:00:00Z"}`))
	f.sub.pushRaw(TableNotifications, []byte(`not json`))
	f.sub.pushRaw(TableNotifications, []byte(`{"type":"news","created_at":"2025-03-01T12:00:00Z"}`))

	assert.Zero(t, f.agg.Len())
}

func TestAggregator_MarkAsRead(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("a", 2, false),
		notification("b", 1, false),
	}
	require.NoError(t, f.agg.Fetch(context.Background()))
	ctx := context.Background()

	require.NoError(t, f.agg.MarkAsRead(ctx, "v", "a"))
	feed := snapshot(t, f.agg, "v")
	assert.Equal(t, 1, feed.UnreadCount)
	assert.True(t, feed.Items[0].IsRead)

	require.NoError(t, f.agg.MarkAsRead(ctx, "v", "a"))
	assert.Equal(t, 1, snapshot(t, f.agg, "v").UnreadCount, "repeated call leaves count unchanged")
	assert.Equal(t, []string{"a", "a"}, f.repo.markCalls, "redundant write is still issued")

	require.NoError(t, f.agg.MarkAsRead(ctx, "v", "b"))
	require.NoError(t, f.agg.MarkAsRead(ctx, "v", "b"))
	assert.Equal(t, 0, snapshot(t, f.agg, "v").UnreadCount)
}

func TestAggregator_MarkAsReadNotFound(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)

	err := f.agg.MarkAsRead(context.Background(), "v", "missing")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.False(t, IsRetryable(err))
}

func TestAggregator_MarkAsReadWriteFailure(t *testing.T) {
	tests := []struct {
		name       string
		policy     WritePolicy
		wantUnread int
	}{
		{name: "confirm leaves local state", policy: WriteConfirm, wantUnread: 1},
		{name: "optimistic applies local state", policy: WriteOptimistic, wantUnread: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlagFixture(t, tt.policy)
			f.repo.notifications = []domain.Notification{notification("a", 1, false)}
			require.NoError(t, f.agg.Fetch(context.Background()))
			f.repo.setErrors(nil, errBackend)

			err := f.agg.MarkAsRead(context.Background(), "v", "a")

			require.Error(t, err)
			assert.True(t, IsRetryable(err))
			assert.Equal(t, tt.wantUnread, snapshot(t, f.agg, "v").UnreadCount)
		})
	}
}

func TestAggregator_MarkAllAsRead(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{
		notification("a", 3, false),
		notification("b", 2, true),
		notification("c", 1, false),
	}
	require.NoError(t, f.agg.Fetch(context.Background()))

	require.NoError(t, f.agg.MarkAllAsRead(context.Background(), "v"))

	feed := snapshot(t, f.agg, "v")
	assert.Equal(t, 0, feed.UnreadCount)
	for _, n := range feed.Items {
		assert.True(t, n.IsRead, n.ID)
	}
	assert.Equal(t, 1, f.repo.markAllCalls)
}

func TestAggregator_MarkAllAsReadWriteFailure(t *testing.T) {
	tests := []struct {
		name       string
		policy     WritePolicy
		wantUnread int
	}{
		{name: "confirm", policy: WriteConfirm, wantUnread: 2},
		{name: "optimistic", policy: WriteOptimistic, wantUnread: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlagFixture(t, tt.policy)
			f.repo.notifications = []domain.Notification{
				notification("a", 2, false),
				notification("b", 1, false),
			}
			require.NoError(t, f.agg.Fetch(context.Background()))
			f.repo.setErrors(nil, errBackend)

			err := f.agg.MarkAllAsRead(context.Background(), "v")

			require.Error(t, err)
			assert.True(t, IsRetryable(err))
			assert.Equal(t, tt.wantUnread, snapshot(t, f.agg, "v").UnreadCount)
		})
	}
}

func newCursorFixture(t *testing.T, policy WritePolicy) *fixture {
	f := newFixture(t, SourceCatalog, AggregatorConfig{ReadModel: ReadModelCursor, WritePolicy: policy})
	f.repo.news = []domain.News{
		{ID: "n1", Title: "Opening", IsActive: true, CreatedAt: at(10)},
		{ID: "n2", Title: "Hidden", IsActive: false, CreatedAt: at(20)},
	}
	f.repo.products = []domain.Product{
		{ID: "p1", Name: "Cold brew", Price: 45000, CreatedAt: at(5)},
	}
	return f
}

func TestAggregator_CursorModel(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))
	ctx := context.Background()

	feed := snapshot(t, f.agg, "alice")
	assert.Equal(t, []string{"n1", "p1"}, feedIDs(feed))
	assert.Equal(t, 2, feed.UnreadCount, "nothing seen yet")

	f.agg.now = func() time.Time { return at(7) }
	require.NoError(t, f.agg.MarkAllAsRead(ctx, "alice"))

	assert.Equal(t, at(10), f.cursors.cursors["alice"], "cursor covers the newest item even if the clock lags")
	assert.Equal(t, 0, snapshot(t, f.agg, "alice").UnreadCount)
	assert.Equal(t, 2, snapshot(t, f.agg, "bob").UnreadCount, "cursors are per viewer")

	f.sub.push(TableProducts, domain.Product{ID: "p2", Name: "Matcha", Price: 50000, CreatedAt: at(11)})

	feed = snapshot(t, f.agg, "alice")
	assert.Equal(t, []string{"p2", "n1", "p1"}, feedIDs(feed))
	assert.Equal(t, 1, feed.UnreadCount)
	assert.False(t, feed.Items[0].IsRead)
	assert.True(t, feed.Items[1].IsRead)
}

func TestAggregator_CursorModelRejectsPerItemRead(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)

	err := f.agg.MarkAsRead(context.Background(), "alice", "n1")
	assert.ErrorIs(t, err, ErrPerItemReadUnsupported)
}

func TestAggregator_CursorWriteFailure(t *testing.T) {
	tests := []struct {
		name       string
		policy     WritePolicy
		wantUnread int
	}{
		{name: "confirm", policy: WriteConfirm, wantUnread: 2},
		{name: "optimistic", policy: WriteOptimistic, wantUnread: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCursorFixture(t, tt.policy)
			require.NoError(t, f.agg.Fetch(context.Background()))
			f.cursors.setErr = errBackend

			err := f.agg.MarkAllAsRead(context.Background(), "alice")

			require.Error(t, err)
			assert.True(t, IsRetryable(err))
			assert.Equal(t, tt.wantUnread, snapshot(t, f.agg, "alice").UnreadCount)
		})
	}
}

func TestAggregator_CursorReadFailure(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)
	f.cursors.getErr = errBackend

	_, err := f.agg.Snapshot(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestAggregator_CursorIsCachedUntilResync(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Fetch(context.Background()))

	snapshot(t, f.agg, "alice")
	snapshot(t, f.agg, "alice")
	assert.Equal(t, 1, f.cursors.getCalls)

	require.NoError(t, f.agg.Fetch(context.Background()))
	snapshot(t, f.agg, "alice")
	assert.Equal(t, 2, f.cursors.getCalls)
}

func TestAggregator_CursorCacheIsBounded(t *testing.T) {
	f := newFixture(t, SourceCatalog, AggregatorConfig{
		ReadModel:       ReadModelCursor,
		WritePolicy:     WriteConfirm,
		CursorCacheSize: 2,
	})
	require.NoError(t, f.agg.Fetch(context.Background()))

	snapshot(t, f.agg, "alice")
	snapshot(t, f.agg, "bob")
	snapshot(t, f.agg, "alice")
	assert.Equal(t, 2, f.cursors.getCalls)

	snapshot(t, f.agg, "carol")
	f.agg.mu.RLock()
	assert.LessOrEqual(t, len(f.agg.lastSeen), 2)
	f.agg.mu.RUnlock()

	// the full cache was dropped, so alice is read from the store again
	snapshot(t, f.agg, "alice")
	assert.Equal(t, 4, f.cursors.getCalls)

	require.NoError(t, f.agg.MarkAllAsRead(context.Background(), "dave"))
	require.NoError(t, f.agg.MarkAllAsRead(context.Background(), "erin"))
	f.agg.mu.RLock()
	assert.LessOrEqual(t, len(f.agg.lastSeen), 2)
	f.agg.mu.RUnlock()
}

func TestAggregator_CatalogInserts(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))

	f.sub.push(TableNews, domain.News{ID: "n3", Title: "Draft", IsActive: false, CreatedAt: at(30)})
	assert.Equal(t, 2, f.agg.Len(), "inactive news is skipped")

	f.sub.push(TableNews, domain.News{ID: "n4", Title: "Happy hour", IsActive: true, CreatedAt: at(31)})
	feed := snapshot(t, f.agg, "v")
	require.Len(t, feed.Items, 3)
	assert.Equal(t, "📰 Happy hour", feed.Items[0].Title)
	assert.Equal(t, domain.NotificationTypeNews, feed.Items[0].Type)
}

func TestAggregator_StartCapturesEarlyInserts(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.notifications = []domain.Notification{notification("old", 1, true)}

	// an insert delivered while the initial fetch is still pending, and one already in the fetch
	f.sub.onSubscribe = func(table string) {
		early := notification("early", 2, false)
		f.repo.add(early)
		f.sub.push(table, early)
		f.sub.push(table, notification("racing", 3, false))
	}

	require.NoError(t, f.agg.Start(context.Background()))

	feed := snapshot(t, f.agg, "v")
	assert.Equal(t, []string{"racing", "early", "old"}, feedIDs(feed))
	assert.Equal(t, 2, feed.UnreadCount)
}

func TestAggregator_StartFetchFailureStillSubscribes(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	f.repo.setErrors(errBackend, nil)

	require.NoError(t, f.agg.Start(context.Background()))

	f.sub.push(TableNotifications, notification("a", 1, false))
	assert.Equal(t, 1, f.agg.Len())
}

func TestAggregator_StartSubscribeFailure(t *testing.T) {
	f := newCursorFixture(t, WriteConfirm)
	f.sub.subscribeErr[TableProducts] = errBackend

	err := f.agg.Start(context.Background())

	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, 1, f.sub.unsubscribeCount(TableNews), "streams opened before the failure are released")
}

func TestAggregator_GapTriggersResync(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))

	// missed while the stream was down
	f.repo.add(notification("missed", 1, false))
	f.sub.gap(TableNotifications)

	assert.Eventually(t, func() bool { return f.agg.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAggregator_CloseWaitsForGapResync(t *testing.T) {
	// a long query timeout, so only Close can end the hanging fetch
	f := newFixture(t, SourceCombined, AggregatorConfig{
		ReadModel:    ReadModelFlag,
		WritePolicy:  WriteConfirm,
		QueryTimeout: time.Minute,
	})
	require.NoError(t, f.agg.Start(context.Background()))

	listing := f.repo.hangLists()
	f.sub.gap(TableNotifications)

	select {
	case <-listing:
	case <-time.After(time.Second):
		t.Fatal("gap did not start a resync")
	}

	closed := make(chan error, 1)
	go func() { closed <- f.agg.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the running resync")
	}

	calls := f.repo.listCount()
	f.agg.handleGap(TableNotifications)
	f.agg.Resync("schedule")
	assert.Equal(t, calls, f.repo.listCount(), "no fetch after Close")
}

func TestAggregator_Close(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))
	events, cancel := f.agg.Watch(1)
	defer cancel()

	require.NoError(t, f.agg.Close())
	require.NoError(t, f.agg.Close())

	assert.Equal(t, 1, f.sub.unsubscribeCount(TableNotifications))
	_, open := <-events
	assert.False(t, open)

	assert.False(t, f.agg.Insert(notification("late", 1, false)))
	assert.ErrorIs(t, f.agg.Start(context.Background()), ErrClosed)
}

func TestAggregator_Watch(t *testing.T) {
	f := newFlagFixture(t, WriteConfirm)
	require.NoError(t, f.agg.Start(context.Background()))

	fast, cancelFast := f.agg.Watch(4)
	defer cancelFast()
	slow, cancelSlow := f.agg.Watch(1)
	defer cancelSlow()

	f.sub.push(TableNotifications, notification("a", 1, false))
	f.sub.push(TableNotifications, notification("b", 2, false))
	f.sub.push(TableNotifications, notification("a", 1, false)) // duplicate, not broadcast

	assert.Equal(t, "a", (<-fast).ID)
	assert.Equal(t, "b", (<-fast).ID)
	assert.Equal(t, "a", (<-slow).ID)
	select {
	case n := <-slow:
		t.Fatalf("slow watcher should have dropped %s", n.ID)
	default:
	}

	cancelFast()
	cancelFast()
	_, open := <-fast
	assert.False(t, open)
}
