package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
)

var errBackend = errors.New("backend unavailable")

// mockRepository implements Repository for testing.
type mockRepository struct {
	mu            sync.Mutex
	notifications []domain.Notification
	news          []domain.News
	products      []domain.Product
	listErr       error
	markErr       error
	markCalls     []string
	markAllCalls  int
	lastLimit     int
	listCalls     int
	// listing, when set, receives a value on each list call, which then waits for ctx to end.
	listing chan struct{}
}

func (m *mockRepository) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	m.listCalls++
	listing := m.listing
	m.mu.Unlock()
	if listing != nil {
		listing <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Notification, len(m.notifications))
	copy(out, m.notifications)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepository) ListActiveNews(_ context.Context, _ int) ([]domain.News, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.News, 0, len(m.news))
	for _, n := range m.news {
		if n.IsActive {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockRepository) ListProducts(_ context.Context, _ int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *mockRepository) MarkAsRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls = append(m.markCalls, id)
	if m.markErr != nil {
		return m.markErr
	}
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (m *mockRepository) MarkAllAsRead(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markAllCalls++
	if m.markErr != nil {
		return 0, m.markErr
	}
	var n int64
	for i := range m.notifications {
		if !m.notifications[i].IsRead {
			m.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) add(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append([]domain.Notification{n}, m.notifications...)
}

func (m *mockRepository) hangLists() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = make(chan struct{}, 1)
	return m.listing
}

func (m *mockRepository) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *mockRepository) setErrors(listErr, markErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = listErr
	m.markErr = markErr
}

// mockCursorStore implements CursorStore for testing.
type mockCursorStore struct {
	mu       sync.Mutex
	cursors  map[string]time.Time
	getErr   error
	setErr   error
	getCalls int
}

func newMockCursorStore() *mockCursorStore {
	return &mockCursorStore{cursors: make(map[string]time.Time)}
}

func (m *mockCursorStore) GetLastSeen(_ context.Context, viewerID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return time.Time{}, m.getErr
	}
	return m.cursors[viewerID], nil
}

func (m *mockCursorStore) SetLastSeen(_ context.Context, viewerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if at.After(m.cursors[viewerID]) {
		m.cursors[viewerID] = at
	}
	return nil
}

// mockSubscriber implements InsertSubscriber and lets tests push inserts and gaps.
type mockSubscriber struct {
	mu           sync.Mutex
	streams      map[string]Stream
	subscribeErr map[string]error
	unsubscribed map[string]int
	// onSubscribe runs after a stream is registered, before Subscribe returns.
	onSubscribe func(table string)
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		streams:      make(map[string]Stream),
		subscribeErr: make(map[string]error),
		unsubscribed: make(map[string]int),
	}
}

func (m *mockSubscriber) Subscribe(_ context.Context, stream Stream) (Subscription, error) {
	m.mu.Lock()
	if err := m.subscribeErr[stream.Table]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.streams[stream.Table] = stream
	hook := m.onSubscribe
	m.mu.Unlock()

	if hook != nil {
		hook(stream.Table)
	}
	return &mockSubscription{sub: m, table: stream.Table}, nil
}

func (m *mockSubscriber) push(table string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.pushRaw(table, payload)
}

func (m *mockSubscriber) pushRaw(table string, payload []byte) {
	m.mu.Lock()
	stream, ok := m.streams[table]
	m.mu.Unlock()
	if ok {
		stream.OnInsert(payload)
	}
}

func (m *mockSubscriber) gap(table string) {
	m.mu.Lock()
	stream := m.streams[table]
	m.mu.Unlock()
	stream.OnGap()
}

func (m *mockSubscriber) unsubscribeCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribed[table]
}

type mockSubscription struct {
	sub   *mockSubscriber
	table string
	once  sync.Once
}

func (s *mockSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.sub.mu.Lock()
		defer s.sub.mu.Unlock()
		s.sub.unsubscribed[s.table]++
		delete(s.sub.streams, s.table)
	})
	return nil
}

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func notification(id string, minutes int, read bool) domain.Notification {
	return domain.Notification{
		ID:        id,
		Title:     "title " + id,
		Content:   "content " + id,
		Type:      domain.NotificationTypeNews,
		TargetID:  "target-" + id,
		IsRead:    read,
		CreatedAt: at(minutes),
	}
}

func feedIDs(feed Feed) []string {
	out := make([]string, 0, len(feed.Items))
	for _, n := range feed.Items {
		out = append(out, n.ID)
	}
	return out
}
