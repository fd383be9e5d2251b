package cdp

import (
	"context"
	"errors"
	"sync"
)

// ErrRejected is recorded as the reason when a Future is rejected with a nil error.
var ErrRejected = errors.New("future rejected")

// State is the settlement state of a Future.
type State uint8

const (
	// StatePending means neither Resolve nor Reject has taken effect yet.
	StatePending State = iota
	// StateFulfilled means the Future holds a value.
	StateFulfilled
	// StateRejected means the Future holds a failure reason.
	StateRejected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Future is a placeholder for a value that arrives asynchronously.
// It settles at most once; the first Resolve or Reject wins and later calls
// have no effect. A Future that is never settled blocks Wait forever.
type Future[T any] struct {
	mu     sync.Mutex
	done   chan struct{}
	state  State
	value  T
	reason error
}

// NewFuture creates a pending Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve fulfills the Future with v.
// Reports whether this call settled the Future.
func (f *Future[T]) Resolve(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = StateFulfilled
	f.value = v
	close(f.done)
	return true
}

// Reject settles the Future with a failure reason.
// Reports whether this call settled the Future.
func (f *Future[T]) Reject(reason error) bool {
	if reason == nil {
		reason = ErrRejected
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = StateRejected
	f.reason = reason
	close(f.done)
	return true
}

// State returns the current state without blocking.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Value returns the fulfilled value and true, or the zero value and false
// if the Future is not fulfilled.
func (f *Future[T]) Value() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateFulfilled {
		var zero T
		return zero, false
	}
	return f.value, true
}

// Reason returns the rejection reason, or nil if the Future is not rejected.
func (f *Future[T]) Reason() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Done returns a channel that is closed once the Future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future settles and returns its value or reason.
func (f *Future[T]) Wait() (T, error) {
	<-f.done // Channel close establishes happens-before for the fields below.
	return f.value, f.reason
}

// WaitContext is like Wait but stops waiting when ctx is done.
// Abandoning the wait does not change the Future.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.reason
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
