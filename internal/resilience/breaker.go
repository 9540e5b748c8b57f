// Package resilience provides reliability patterns for external service calls:
// a circuit breaker for the model client and bounded retry with exponential
// backoff for transient failures.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker protects an external dependency by tracking consecutive failures.
// After maxFailures in a row the circuit opens and calls are rejected until
// the cooldown elapses; the first call after cooldown probes in half-open state.
type Breaker struct {
	mu       sync.Mutex
	state    breakerState
	streak   int // consecutive failures
	limit    int
	cooldown time.Duration
	openedAt time.Time
	now      func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given cooldown before probing half-open.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		limit:    maxFailures,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.streak++
		if b.state == breakerHalfOpen || b.streak >= b.limit {
			b.state = breakerOpen
			b.openedAt = b.now()
		}
		return err
	}

	b.streak = 0
	b.state = breakerClosed
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
	return false
}
