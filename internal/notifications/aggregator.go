package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
)

// ReadModel selects how read state is kept.
type ReadModel string

// Read models.
const (
	// ReadModelFlag keeps a per-record is_read flag shared by every viewer.
	ReadModelFlag ReadModel = "flag"
	// ReadModelCursor keeps one "last seen" timestamp per viewer.
	ReadModelCursor ReadModel = "cursor"
)

// WritePolicy selects when local read state changes relative to persistence.
type WritePolicy string

// Write policies.
const (
	// WriteConfirm persists first and changes local state only on success.
	WriteConfirm WritePolicy = "confirm"
	// WriteOptimistic changes local state regardless of the persistence outcome.
	WriteOptimistic WritePolicy = "optimistic"
)

const defaultCursorCacheSize = 10000

// AggregatorConfig holds aggregator settings.
type AggregatorConfig struct {
	ReadModel    ReadModel
	WritePolicy  WritePolicy
	FeedLimit    int
	QueryTimeout time.Duration
	// CursorCacheSize bounds the cached viewer cursors; the cache is dropped when full.
	CursorCacheSize int
}

// Feed is a point-in-time view of the notification feed for one viewer.
type Feed struct {
	Items       []domain.Notification `json:"items"`
	UnreadCount int                   `json:"unread_count"`
}

// Aggregator owns the in-memory notification feed. The feed is sorted by created_at
// descending and holds at most FeedLimit items with unique keys.
type Aggregator struct {
	source     Source
	repo       Repository
	cursors    CursorStore
	subscriber InsertSubscriber
	config     AggregatorConfig
	now        func() time.Time

	mu    sync.RWMutex
	items []domain.Notification
	keys  map[string]struct{}
	// capturing counts fetches in flight; inserts seen meanwhile are replayed onto their result.
	capturing int
	captured  []domain.Notification
	lastSeen  map[string]time.Time

	lifecycle sync.Mutex
	subs      []Subscription
	started   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	// ctx is cancelled by Close and bounds background resyncs tracked by background.
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup

	watchMu     sync.Mutex
	watchers    map[int]chan domain.Notification
	nextWatcher int
}

// NewAggregator creates an aggregator. cursors may be nil unless the read model is cursor.
func NewAggregator(
	source Source,
	repo Repository,
	cursors CursorStore,
	subscriber InsertSubscriber,
	config AggregatorConfig,
) (*Aggregator, error) {
	switch config.ReadModel {
	case ReadModelFlag:
		if source.Kind() != SourceCombined {
			return nil, fmt.Errorf("read model %q requires the %q source", ReadModelFlag, SourceCombined)
		}
	case ReadModelCursor:
		if cursors == nil {
			return nil, fmt.Errorf("read model %q requires a cursor store", ReadModelCursor)
		}
	default:
		return nil, fmt.Errorf("unknown read model: %q", config.ReadModel)
	}

	switch config.WritePolicy {
	case WriteConfirm, WriteOptimistic:
	case "":
		config.WritePolicy = WriteConfirm
	default:
		return nil, fmt.Errorf("unknown write policy: %q", config.WritePolicy)
	}

	if config.FeedLimit <= 0 {
		return nil, errors.New("feed limit must be positive")
	}
	if config.CursorCacheSize <= 0 {
		config.CursorCacheSize = defaultCursorCacheSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		source:     source,
		repo:       repo,
		cursors:    cursors,
		subscriber: subscriber,
		config:     config,
		now:        time.Now,
		keys:       make(map[string]struct{}),
		lastSeen:   make(map[string]time.Time),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		watchers:   make(map[int]chan domain.Notification),
	}, nil
}

// Start opens the insert streams and loads the feed. Inserts that arrive before the
// initial fetch completes are applied on top of its result, so none are lost or doubled.
// A failed initial fetch is logged and left to the next resync; a failed subscribe is returned.
func (a *Aggregator) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	if a.closed {
		a.lifecycle.Unlock()
		return ErrClosed
	}
	if a.started {
		a.lifecycle.Unlock()
		return errors.New("aggregator already started")
	}
	a.started = true
	a.lifecycle.Unlock()

	a.beginCapture()

	if err := a.subscribe(ctx); err != nil {
		a.endCapture(nil, err)
		a.lifecycle.Lock()
		a.started = false
		a.lifecycle.Unlock()
		return err
	}

	items, err := a.load(ctx)
	a.endCapture(items, err)
	recordResync("start", err)
	if err != nil {
		slog.Warn("initial notification fetch failed", "source", a.source.Kind(), "error", err)
	}

	slog.Info("notification feed started",
		"source", a.source.Kind(),
		"read_model", a.config.ReadModel,
		"write_policy", a.config.WritePolicy,
		"items", a.Len(),
	)
	return nil
}

func (a *Aggregator) subscribe(ctx context.Context) error {
	subs := make([]Subscription, 0, len(a.source.Tables()))
	for _, table := range a.source.Tables() {
		table := table
		sub, err := a.subscriber.Subscribe(ctx, Stream{
			Table:    table,
			OnInsert: func(payload []byte) { a.handleInsert(table, payload) },
			OnGap:    func() { a.handleGap(table) },
		})
		if err != nil {
			for _, s := range subs {
				if uerr := s.Unsubscribe(); uerr != nil {
					slog.Error("failed to release insert stream", "error", uerr)
				}
			}
			return fmt.Errorf("subscribe to %s inserts: %w", table, err)
		}
		subs = append(subs, sub)
	}

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.closed {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return ErrClosed
	}
	a.subs = subs
	return nil
}

// Close releases the insert streams, ends every watch and waits for background resyncs,
// cancelling any still running. It is safe to call more than once.
func (a *Aggregator) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.lifecycle.Lock()
		a.closed = true
		subs := a.subs
		a.subs = nil
		a.lifecycle.Unlock()

		close(a.done)
		a.cancel()

		for _, s := range subs {
			if err := s.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}

		a.watchMu.Lock()
		for id, ch := range a.watchers {
			close(ch)
			delete(a.watchers, id)
		}
		a.watchMu.Unlock()

		a.background.Wait()
	})
	return errors.Join(errs...)
}

// Fetch replaces the feed with the current backend contents. On failure the previous feed is
// kept and the error is returned for logging.
func (a *Aggregator) Fetch(ctx context.Context) error {
	a.beginCapture()
	items, err := a.load(ctx)
	a.endCapture(items, err)
	return err
}

// Resync runs Fetch until Close and logs the outcome under trigger.
func (a *Aggregator) Resync(trigger string) {
	if a.ctx.Err() != nil {
		return
	}

	err := a.Fetch(a.ctx)
	if err != nil && a.ctx.Err() != nil {
		slog.Debug("notification feed resync cancelled", "trigger", trigger)
		return
	}
	recordResync(trigger, err)
	if err != nil {
		slog.Error("notification feed resync failed", "trigger", trigger, "error", err)
		return
	}
	slog.Debug("notification feed resynced", "trigger", trigger, "items", a.Len())
}

func (a *Aggregator) load(ctx context.Context) ([]domain.Notification, error) {
	qctx, cancel := a.withTimeout(ctx)
	defer cancel()

	items, err := a.source.Fetch(qctx, a.config.FeedLimit)
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("fetch notifications: %w", err))
	}
	sortNewestFirst(items)
	return items, nil
}

func (a *Aggregator) beginCapture() {
	a.mu.Lock()
	a.capturing++
	a.mu.Unlock()
}

// endCapture installs a fetched feed (when err is nil) and replays the inserts captured meanwhile.
func (a *Aggregator) endCapture(items []domain.Notification, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.capturing--
	if err == nil {
		a.replaceLocked(items)
		// cursors are re-read from the store after a full fetch
		a.lastSeen = make(map[string]time.Time)
	}
	for _, n := range a.captured {
		a.insertLocked(n)
	}
	if a.capturing == 0 {
		a.captured = nil
	}
	feedSize.Set(float64(len(a.items)))
}

func (a *Aggregator) replaceLocked(items []domain.Notification) {
	a.items = make([]domain.Notification, 0, min(len(items), a.config.FeedLimit))
	a.keys = make(map[string]struct{}, len(items))
	for _, n := range items {
		if len(a.items) == a.config.FeedLimit {
			break
		}
		key := n.Key()
		if _, dup := a.keys[key]; dup {
			continue
		}
		a.keys[key] = struct{}{}
		a.items = append(a.items, n)
	}
}

// insertLocked places n at its sorted position, ahead of items with an equal timestamp.
// It reports whether n is in the feed afterwards.
func (a *Aggregator) insertLocked(n domain.Notification) bool {
	key := n.Key()
	if _, dup := a.keys[key]; dup {
		return false
	}

	pos := sort.Search(len(a.items), func(i int) bool {
		return !a.items[i].CreatedAt.After(n.CreatedAt)
	})
	if pos >= a.config.FeedLimit {
		return false
	}

	a.items = append(a.items, domain.Notification{})
	copy(a.items[pos+1:], a.items[pos:])
	a.items[pos] = n
	a.keys[key] = struct{}{}

	if len(a.items) > a.config.FeedLimit {
		last := a.items[len(a.items)-1]
		delete(a.keys, last.Key())
		a.items = a.items[:a.config.FeedLimit]
	}
	return true
}

func (a *Aggregator) handleInsert(table string, payload []byte) {
	item, ok, err := a.source.Decode(table, payload)
	if err != nil {
		recordInsert(table, "invalid")
		slog.Warn("dropping invalid insert event", "table", table, "error", err)
		return
	}
	if !ok {
		recordInsert(table, "skipped")
		return
	}
	a.Insert(item)
	recordInsert(table, "ok")
}

// Insert applies one live insert. Items already present by key are ignored.
func (a *Aggregator) Insert(item domain.Notification) bool {
	select {
	case <-a.done:
		return false
	default:
	}

	a.mu.Lock()
	inserted := a.insertLocked(item)
	if a.capturing > 0 {
		a.captured = append(a.captured, item)
	}
	feedSize.Set(float64(len(a.items)))
	a.mu.Unlock()

	if inserted {
		a.broadcast(item)
	}
	return inserted
}

func (a *Aggregator) handleGap(table string) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.closed {
		return
	}

	slog.Warn("insert stream gap, resyncing feed", "table", table)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.Resync("gap")
	}()
}

// Len returns the number of items in the feed.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Snapshot returns a copy of the feed with read state as seen by viewerID.
func (a *Aggregator) Snapshot(ctx context.Context, viewerID string) (Feed, error) {
	if a.config.ReadModel == ReadModelFlag {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return buildFeed(a.items, nil), nil
	}

	lastSeen, err := a.viewerLastSeen(ctx, viewerID)
	if err != nil {
		return Feed{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return buildFeed(a.items, &lastSeen), nil
}

// buildFeed copies items. With a cursor, an item is read iff it is not newer than the cursor.
func buildFeed(items []domain.Notification, cursor *time.Time) Feed {
	feed := Feed{Items: make([]domain.Notification, len(items))}
	copy(feed.Items, items)
	for i := range feed.Items {
		if cursor != nil {
			feed.Items[i].IsRead = !feed.Items[i].CreatedAt.After(*cursor)
		}
		if !feed.Items[i].IsRead {
			feed.UnreadCount++
		}
	}
	return feed
}

func (a *Aggregator) viewerLastSeen(ctx context.Context, viewerID string) (time.Time, error) {
	a.mu.RLock()
	ts, ok := a.lastSeen[viewerID]
	a.mu.RUnlock()
	if ok {
		return ts, nil
	}

	qctx, cancel := a.withTimeout(ctx)
	defer cancel()

	ts, err := a.cursors.GetLastSeen(qctx, viewerID)
	if err != nil {
		return time.Time{}, NewRetryableError(fmt.Errorf("get last seen: %w", err))
	}

	a.mu.Lock()
	if cached, ok := a.lastSeen[viewerID]; ok {
		ts = cached
	} else {
		a.cacheLastSeenLocked(viewerID, ts)
	}
	a.mu.Unlock()
	return ts, nil
}

// MarkAsRead marks one item read. The backend write is issued even when the item is already
// read. Only the flag read model supports it.
func (a *Aggregator) MarkAsRead(ctx context.Context, viewerID, id string) error {
	if a.config.ReadModel != ReadModelFlag {
		return ErrPerItemReadUnsupported
	}

	if a.config.WritePolicy == WriteOptimistic {
		a.setRead(id)
	}

	qctx, cancel := a.withTimeout(ctx)
	err := a.repo.MarkAsRead(qctx, id)
	cancel()
	recordReadWrite("mark_read", err)

	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return err
		}
		return NewRetryableError(fmt.Errorf("mark notification %s read: %w", id, err))
	}

	if a.config.WritePolicy == WriteConfirm {
		a.setRead(id)
	}
	return nil
}

func (a *Aggregator) setRead(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		if a.items[i].ID == id {
			a.items[i].IsRead = true
		}
	}
}

// MarkAllAsRead marks the whole feed read for viewerID.
//
// With the flag model every unread record is updated in one write and the feed is refetched.
// With the cursor model the viewer's cursor moves to the later of now and the newest item.
func (a *Aggregator) MarkAllAsRead(ctx context.Context, viewerID string) error {
	if a.config.ReadModel == ReadModelCursor {
		return a.advanceCursor(ctx, viewerID)
	}

	if a.config.WritePolicy == WriteOptimistic {
		a.setAllRead()
	}

	qctx, cancel := a.withTimeout(ctx)
	updated, err := a.repo.MarkAllAsRead(qctx)
	cancel()
	recordReadWrite("mark_all_read", err)
	if err != nil {
		return NewRetryableError(fmt.Errorf("mark all notifications read: %w", err))
	}

	if a.config.WritePolicy == WriteConfirm {
		a.setAllRead()
	}

	ctxlog.FromContext(ctx).Debug("notifications marked read", "updated", updated)

	if err := a.Fetch(ctx); err != nil {
		slog.Warn("refetch after mark all read failed", "error", err)
	}
	return nil
}

func (a *Aggregator) setAllRead() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		a.items[i].IsRead = true
	}
}

func (a *Aggregator) advanceCursor(ctx context.Context, viewerID string) error {
	ts := a.now().UTC()
	a.mu.RLock()
	if len(a.items) > 0 && a.items[0].CreatedAt.After(ts) {
		ts = a.items[0].CreatedAt
	}
	a.mu.RUnlock()

	if a.config.WritePolicy == WriteOptimistic {
		a.setLastSeen(viewerID, ts)
	}

	qctx, cancel := a.withTimeout(ctx)
	err := a.cursors.SetLastSeen(qctx, viewerID, ts)
	cancel()
	recordReadWrite("advance_cursor", err)
	if err != nil {
		return NewRetryableError(fmt.Errorf("set last seen: %w", err))
	}

	if a.config.WritePolicy == WriteConfirm {
		a.setLastSeen(viewerID, ts)
	}
	return nil
}

func (a *Aggregator) setLastSeen(viewerID string, ts time.Time) {
	a.mu.Lock()
	a.cacheLastSeenLocked(viewerID, ts)
	a.mu.Unlock()
}

// cacheLastSeenLocked stores a viewer cursor, starting over once the cache is full.
func (a *Aggregator) cacheLastSeenLocked(viewerID string, ts time.Time) {
	if _, ok := a.lastSeen[viewerID]; !ok && len(a.lastSeen) >= a.config.CursorCacheSize {
		a.lastSeen = make(map[string]time.Time)
	}
	a.lastSeen[viewerID] = ts
}

// Watch streams items as they are inserted. Events are dropped for a watcher whose buffer is
// full. The returned cancel func must be called to release the watch.
func (a *Aggregator) Watch(buffer int) (<-chan domain.Notification, func()) {
	ch := make(chan domain.Notification, buffer)

	a.watchMu.Lock()
	select {
	case <-a.done:
		a.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = ch
	a.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.watchMu.Lock()
			defer a.watchMu.Unlock()
			if c, ok := a.watchers[id]; ok {
				close(c)
				delete(a.watchers, id)
			}
		})
	}
}

func (a *Aggregator) broadcast(item domain.Notification) {
	if a.config.ReadModel == ReadModelCursor {
		item.IsRead = false
	}

	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	for _, ch := range a.watchers {
		select {
		case ch <- item:
		default:
			watchersDropped.Inc()
		}
	}
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}
