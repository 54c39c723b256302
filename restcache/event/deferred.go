package event

import (
	"context"
	"sync"
)

// Deferred is a one-shot completion primitive: any number of callers can
// Wait for the same value; Resolve or Reject settles it exactly once, and
// later calls are no-ops. It backs waitForActivation, authentication
// challenges, and list pagination parking, all of which need many readers
// to observe a single eventual outcome.
type Deferred[T any] struct {
	mu   sync.Mutex
	done chan struct{}
	val  T
	err  error
}

// NewDeferred returns a Deferred ready to be waited on.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the Deferred with v. Subsequent Resolve/Reject calls are
// ignored.
func (d *Deferred[T]) Resolve(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
		return
	default:
	}
	d.val = v
	close(d.done)
}

// Reject settles the Deferred with an error. Subsequent Resolve/Reject
// calls are ignored.
func (d *Deferred[T]) Reject(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
		return
	default:
	}
	d.err = err
	close(d.done)
}

// Wait blocks until the Deferred settles or ctx is done, whichever comes
// first.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
