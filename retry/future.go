package retry

import (
	"context"
	"sync"
)

// Future is the shared result of one retried operation. The first
// caller to start a fetch becomes the leader; every other caller for
// the same entry holds the same Future and waits on it.
//
// Concurrency notes:
//   - Publishing (val, err) happens-before close(done), so reads after
//     <-Done() observe the final values.
//   - Resolve/Reject are idempotent: the first settle wins, later
//     calls are ignored. This is what lets a cancelled operation drop
//     a late result from a fetch function that ignored its context.
type Future[V any] struct {
	mu      sync.Mutex
	done    chan struct{} // closed when val/err are published
	val     V
	err     error
	settled bool
}

// NewFuture returns an unsettled Future.
func NewFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

// Resolve publishes a value. Reports whether this call settled the
// future (false if it was already settled).
func (f *Future[V]) Resolve(v V) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.val, f.settled = v, true
	close(f.done)
	return true
}

// Reject publishes an error. Reports whether this call settled the
// future.
func (f *Future[V]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err, f.settled = err, true
	close(f.done)
	return true
}

// Done returns a channel closed once the future settles.
func (f *Future[V]) Done() <-chan struct{} { return f.done }

// Settled reports whether a result has been published.
func (f *Future[V]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the published value and error. Valid only after
// Done() is closed; before that it returns zero values.
func (f *Future[V]) Result() (V, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Wait blocks until the future settles or ctx is cancelled. A ctx
// cancellation unblocks only this waiter; it does not cancel the
// underlying operation.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
