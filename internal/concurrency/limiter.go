// Package concurrency implements the global concurrency limiter (C3): a
// single process-wide semaphore bounding in-flight source fetches, built the
// way the teacher builds its own blocking primitives (a mutex-guarded queue
// of waiter channels rather than a raw counting semaphore), so that a
// released slot transfers directly to the oldest waiter (FIFO) instead of
// being reclaimed by whichever goroutine wakes first.
package concurrency

import (
	"context"
	"log/slog"
	"sync"
)

// Limiter bounds the number of concurrently in-flight operations.
type Limiter struct {
	mu      sync.Mutex
	cap     int
	active  int
	waiters []chan struct{}
	logger  *slog.Logger
}

// New creates a Limiter with the given capacity (default 10 per spec §4.3).
func New(capacity int, logger *slog.Logger) *Limiter {
	if capacity <= 0 {
		capacity = 10
	}
	return &Limiter{cap: capacity, logger: logger.With("component", "concurrency_limiter")}
}

// Acquire blocks until a slot is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.cap {
		l.active++
		l.mu.Unlock()
		return nil
	}

	wait := make(chan struct{})
	l.waiters = append(l.waiters, wait)
	l.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		l.cancelWaiter(wait)
		return ctx.Err()
	}
}

// cancelWaiter removes a waiter from the queue if it hasn't been woken yet.
func (l *Limiter) cancelWaiter(wait chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == wait {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Release frees a slot, transferring it directly to the oldest waiter (if
// any) without ever dropping the active count to reflect a momentary gap.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next) // slot transfers directly; active count unchanged
		return
	}
	l.active--
}

// Execute acquires a slot, runs fn, and guarantees release on every exit path.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// InFlight returns the number of currently active operations.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting returns the number of operations parked waiting for a slot.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
