package cache

import (
	"context"
	"slices"
	"sync"
)

// Handler receives invalidated keys.
type Handler func(ctx context.Context, keys []Key)

// Bus delivers invalidations to in-process subscribers. It is the default
// implementation for single-instance deployments.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
	closed bool
}

var _ Invalidator = (*Bus)(nil)

// NewBus creates a new in-process invalidation bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = h

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Invalidate calls every subscriber synchronously in registration order.
func (b *Bus) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, append([]Key(nil), keys...))
	}
	return nil
}

// Close drops all subscribers. Later invalidations are discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]Handler)
	return nil
}
