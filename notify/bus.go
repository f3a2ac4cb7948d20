// Package notify provides the payload-less change notification bus. A
// publish means "state changed, re-read what you care about".
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"sentinel/metrics"
	"sentinel/util/goroutine"

	"go.uber.org/zap"
)

// Handler is invoked once per Publish
type Handler func()

type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Bus fans a notification out to every current subscriber. Publish is
// synchronous and must be called without holding engine or store locks.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    uint64
	warnAfter time.Duration
	logger    *zap.SugaredLogger
}

// NewBus creates a bus. Handlers running longer than warnAfter are logged;
// zero disables the check.
func NewBus(logger *zap.SugaredLogger, warnAfter time.Duration) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		warnAfter: warnAfter,
		logger:    logger,
	}
}

// Subscribe registers handler and returns its unsubscribe function. Calling
// unsubscribe more than once is harmless.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	sub := &subscription{handler: handler}
	sub.active.Store(handler != nil)

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	count := len(b.subs)
	b.mu.Unlock()

	metrics.NotifySubscribers.Set(float64(count))

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.remove(sub.id)
		})
	}
}

// SubscribeChan returns a channel that receives a value after each Publish.
// Sends never block: notifications collapse while the consumer is behind,
// which is fine because they carry no payload. The channel is closed by
// unsubscribe.
func (b *Bus) SubscribeChan(buffer int) (<-chan struct{}, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan struct{}, buffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Publish invokes every current subscriber once, in subscription order.
// A panicking handler is logged and skipped.
func (b *Bus) Publish() {
	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		start := time.Now()
		if goroutine.SafeCall("notify-subscriber", b.logger, sub.handler) {
			b.logger.Warnw("Change subscriber panicked", "subscriber", sub.id)
		}
		if elapsed := time.Since(start); b.warnAfter > 0 && elapsed > b.warnAfter {
			b.logger.Warnw("Slow change subscriber",
				"subscriber", sub.id,
				"elapsed", elapsed,
				"threshold", b.warnAfter)
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	count := len(b.subs)
	b.mu.Unlock()

	metrics.NotifySubscribers.Set(float64(count))
}
