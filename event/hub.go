// Package event provides typed observer registration with disposer-based
// unsubscription.
//
// A Hub holds an ordered list of handlers for one event type. Subscribing
// returns a disposer instead of requiring callers to track handler identity
// for removal. Handlers run synchronously in registration order, and a
// panicking handler does not prevent later handlers from running.
package event

import (
	"log/slog"
	"sync"
)

// Hub dispatches values of type T to subscribed handlers.
// The zero value is not usable; create hubs with NewHub.
type Hub[T any] struct {
	mu       sync.Mutex
	handlers []*subscription[T]
	nextID   uint64
	logger   *slog.Logger
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// NewHub creates an empty hub. A nil logger falls back to slog.Default.
func NewHub[T any](logger *slog.Logger) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{logger: logger}
}

// Subscribe registers a handler and returns a disposer that removes it.
// The disposer is idempotent.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	h.nextID++
	sub := &subscription[T]{id: h.nextID, fn: fn}
	h.handlers = append(h.handlers, sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(sub.id)
		})
	}
}

// Publish invokes every subscribed handler with v, in registration order.
// The handler list is snapshotted first, so handlers added or removed during
// dispatch take effect on the next Publish.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	snapshot := make([]*subscription[T], len(h.handlers))
	copy(snapshot, h.handlers)
	h.mu.Unlock()

	for _, sub := range snapshot {
		h.dispatch(sub, v)
	}
}

// dispatch runs one handler, containing any panic so remaining handlers run.
func (h *Hub[T]) dispatch(sub *subscription[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked", "panic", r)
		}
	}()
	sub.fn(v)
}

// Len returns the number of registered handlers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

// Clear removes all handlers.
func (h *Hub[T]) Clear() {
	h.mu.Lock()
	h.handlers = nil
	h.mu.Unlock()
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.handlers {
		if sub.id == id {
			h.handlers = append(h.handlers[:i], h.handlers[i+1:]...)
			return
		}
	}
}
