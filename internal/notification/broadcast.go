package notification

import (
	"sync"

	"github.com/poachwatch/poachwatch/internal/logger"
)

// DefaultSubscriberBuffer is the channel capacity given to each subscriber.
const DefaultSubscriberBuffer = 16

type subscriber struct {
	role Role // empty receives every role
	ch   chan Notification
}

// Broadcaster fans appended notifications out to live subscribers.
// A subscriber whose buffer is full misses the notification; the log
// remains the source of truth.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	log    logger.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(log logger.Logger) *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{}), log: logger.OrDiscard(log)}
}

// Subscribe returns a channel of notifications for role and a function that
// unsubscribes and closes it. An empty role subscribes to every role.
func (b *Broadcaster) Subscribe(role Role) (<-chan Notification, func()) {
	sub := &subscriber{role: role, ch: make(chan Notification, DefaultSubscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers n to every matching subscriber without blocking.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered, skipped := 0, 0
	for sub := range b.subs {
		if sub.role != "" && sub.role != n.Role {
			continue
		}
		select {
		case sub.ch <- n.Clone():
			delivered++
		default:
			skipped++
		}
	}
	if skipped > 0 {
		b.log.Debug("subscriber buffers full, notification skipped",
			logger.String("id", n.ID),
			logger.Int("delivered", delivered),
			logger.Int("skipped", skipped))
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
