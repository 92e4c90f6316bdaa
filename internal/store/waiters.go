package store

import (
	"context"
	"sync"
)

// Waiters lets request goroutines block until a value for an id is published by another goroutine.
// It backs the PIN wait: the vendor registers the request id, the Hello handler publishes the PIN
// and any number of GET /pin requests receive it.
type Waiters[T any] struct {
	mu    sync.Mutex
	slots map[string]*waitSlot[T]
}

type waitSlot[T any] struct {
	done      chan struct{}
	value     T
	published bool
}

func NewWaiters[T any]() *Waiters[T] {
	return &Waiters[T]{slots: make(map[string]*waitSlot[T])}
}

// Register creates the slot for id. Registering an existing id is a no-op.
func (w *Waiters[T]) Register(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.slots[id]; !ok {
		w.slots[id] = &waitSlot[T]{done: make(chan struct{})}
	}
}

// Publish sets the value for id and wakes all waiters.
// It returns false if id is not registered or already has a value.
func (w *Waiters[T]) Publish(id string, v T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.slots[id]
	if !ok || s.published {
		return false
	}
	s.value = v
	s.published = true
	close(s.done)
	return true
}

// Await blocks until a value is published for id or ctx is done.
// An unknown id fails immediately with ErrNotFound.
func (w *Waiters[T]) Await(ctx context.Context, id string) (T, error) {
	var zero T

	w.mu.Lock()
	s, ok := w.slots[id]
	w.mu.Unlock()
	if !ok {
		return zero, NewNotFoundError(id)
	}

	select {
	case <-s.done:
		// value is immutable once done is closed
		return s.value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Remove drops the slot. Goroutines already waiting keep waiting until their context ends.
func (w *Waiters[T]) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.slots, id)
}
