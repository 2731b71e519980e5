package notifications

import "context"

// Stream describes one live insert channel of the backend.
type Stream struct {
	// Table is the collection whose inserts are delivered.
	Table string
	// OnInsert receives the inserted row as JSON.
	OnInsert func(payload []byte)
	// OnGap is called when inserts may have been missed, e.g. after a reconnect.
	OnGap func()
}

// InsertSubscriber opens live insert streams.
type InsertSubscriber interface {
	Subscribe(ctx context.Context, stream Stream) (Subscription, error)
}

// Subscription is a handle to an open stream. Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}
