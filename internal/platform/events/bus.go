package events

import (
	"context"
	"sync"

	"github.com/tayteboss/bfl/internal/domain"
)

// Topic names carried on the bus and on forwarded messages.
const (
	TopicCartUpdated = "cart.updated"
	TopicCartError   = "cart.error"
)

// CartUpdatedHandler receives cart.updated notifications.
type CartUpdatedHandler func(ctx context.Context, evt domain.CartUpdatedEvent)

// CartErrorHandler receives cart.error notifications.
type CartErrorHandler func(ctx context.Context, evt domain.CartErrorEvent)

// Bus is an in-process publish/subscribe hub. Publishing never blocks on subscribers: each
// delivery runs on its own goroutine with a context detached from the publisher's cancellation.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	updated map[int]CartUpdatedHandler
	errored map[int]CartErrorHandler
	closed  bool
	wg      sync.WaitGroup
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		updated: make(map[int]CartUpdatedHandler),
		errored: make(map[int]CartErrorHandler),
	}
}

// SubscribeCartUpdated registers fn and returns its unsubscribe function.
func (b *Bus) SubscribeCartUpdated(fn CartUpdatedHandler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.updated[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.updated, id)
		b.mu.Unlock()
	}
}

// SubscribeCartError registers fn and returns its unsubscribe function.
func (b *Bus) SubscribeCartError(fn CartErrorHandler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.errored[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.errored, id)
		b.mu.Unlock()
	}
}

// PublishCartUpdated delivers evt to every cart.updated subscriber.
func (b *Bus) PublishCartUpdated(ctx context.Context, evt domain.CartUpdatedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, fn := range b.updated {
		b.wg.Add(1)
		go func(fn CartUpdatedHandler) {
			defer b.wg.Done()
			fn(detached, evt)
		}(fn)
	}
}

// PublishCartError delivers evt to every cart.error subscriber.
func (b *Bus) PublishCartError(ctx context.Context, evt domain.CartErrorEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, fn := range b.errored {
		b.wg.Add(1)
		go func(fn CartErrorHandler) {
			defer b.wg.Done()
			fn(detached, evt)
		}(fn)
	}
}

// Wait blocks until every in-flight delivery has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
