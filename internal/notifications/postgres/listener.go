package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/cafe-storefront/internal/notifications"
	"github.com/bissquit/cafe-storefront/internal/pkg/metrics"
	pgutil "github.com/bissquit/cafe-storefront/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelSuffix is appended to a table name to form its NOTIFY channel.
// The insert trigger in the migrations publishes on the same name.
const ChannelSuffix = "_inserted"

const unlistenTimeout = 5 * time.Second

// Listener implements notifications.InsertSubscriber with LISTEN/NOTIFY.
// Each subscription holds one pooled connection for its lifetime.
type Listener struct {
	db *pgxpool.Pool
}

// NewListener creates a new LISTEN/NOTIFY subscriber.
func NewListener(db *pgxpool.Pool) *Listener {
	return &Listener{db: db}
}

// Subscribe starts listening for inserts on stream.Table. The first LISTEN happens before
// Subscribe returns, so a failure to connect is reported to the caller. Later connection
// failures are retried with backoff and reported through stream.OnGap.
func (l *Listener) Subscribe(ctx context.Context, stream notifications.Stream) (notifications.Subscription, error) {
	if stream.OnInsert == nil {
		return nil, errors.New("stream has no insert handler")
	}

	channel := stream.Table + ChannelSuffix

	conn, err := l.listen(ctx, channel)
	if err != nil {
		return nil, err
	}

	// the subscription outlives the Subscribe call
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go l.run(runCtx, sub, conn, stream)

	slog.Info("listening for inserts", "channel", channel)
	return sub, nil
}

func (l *Listener) listen(ctx context.Context, channel string) (*pgxpool.Conn, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return conn, nil
}

func (l *Listener) run(ctx context.Context, sub *subscription, conn *pgxpool.Conn, stream notifications.Stream) {
	defer close(sub.done)

	for {
		err := l.receive(ctx, conn, stream)
		l.release(conn, sub.channel)

		if ctx.Err() != nil {
			return
		}

		slog.Warn("insert listener lost connection", "channel", sub.channel, "error", err)

		conn = l.reconnect(ctx, sub.channel)
		if conn == nil {
			return
		}

		metrics.DBListenerReconnects.WithLabelValues(sub.channel).Inc()
		if stream.OnGap != nil {
			stream.OnGap()
		}
	}
}

// receive delivers notifications until the connection fails or ctx is cancelled.
func (l *Listener) receive(ctx context.Context, conn *pgxpool.Conn, stream notifications.Stream) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		stream.OnInsert([]byte(n.Payload))
	}
}

func (l *Listener) reconnect(ctx context.Context, channel string) *pgxpool.Conn {
	for attempt := 1; ; attempt++ {
		if !pgutil.Sleep(ctx, pgutil.Backoff(attempt)) {
			return nil
		}

		conn, err := l.listen(ctx, channel)
		if err == nil {
			slog.Info("insert listener reconnected", "channel", channel, "attempts", attempt)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("insert listener reconnect failed", "channel", channel, "attempt", attempt, "error", err)
	}
}

// release stops listening and hands the connection back to the pool.
// A connection that cannot UNLISTEN is closed so it is not reused with a stale LISTEN.
func (l *Listener) release(conn *pgxpool.Conn, channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

type subscription struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Unsubscribe stops the listener and waits until its connection is released.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		slog.Info("stopped listening for inserts", "channel", s.channel)
	})
	return nil
}
