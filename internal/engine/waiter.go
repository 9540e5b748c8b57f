package engine

import (
	"log/slog"
	"sync"
)

// waiter manages a set of channel-based waiters keyed by correlation ID.
// The clarifier registers one per thread to receive user responses.
type waiter[T any] struct {
	mu      sync.Mutex
	pending map[string]chan *T
	label   string // for logging
}

func newWaiter[T any](label string) *waiter[T] {
	return &waiter[T]{
		pending: make(map[string]chan *T),
		label:   label,
	}
}

// register creates a buffered channel for the given correlation ID.
func (w *waiter[T]) register(id string) chan *T {
	ch := make(chan *T, 1)
	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()
	return ch
}

// unregister removes the waiter for the given correlation ID.
func (w *waiter[T]) unregister(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

// deliver sends a payload to the waiting channel and removes the waiter.
// Returns false if no waiter was registered for the given ID.
func (w *waiter[T]) deliver(id string, payload *T) bool {
	w.mu.Lock()
	ch, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()

	if !ok {
		slog.Warn("no waiter for "+w.label, "id", id)
		return false
	}

	ch <- payload
	return true
}
