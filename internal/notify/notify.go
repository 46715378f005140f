// Package notify provides the batching boundary used to fan out query
// state changes. Callbacks scheduled while a batch section is open are
// queued and flushed once when the outermost section exits, so several
// transitions performed in one logical operation reach subscribers as
// a single burst instead of one callback per intermediate step.
package notify

import "sync"

// Scheduler dispatches notification callbacks. Implementations decide
// whether a callback runs immediately or is coalesced into a flush.
type Scheduler interface {
	// Batch runs fn inside a batching section. Sections nest; queued
	// callbacks run when the outermost section exits.
	Batch(fn func())
	// Schedule runs cb now, or queues it if a batch section is open.
	Schedule(cb func())
}

// Batcher is the default Scheduler. The zero value is ready to use.
//
// Concurrency: the lock guards only the depth counter and the queue,
// never a user callback, so sections may nest on one goroutine and
// batches on different goroutines coalesce into whichever flush runs
// last.
type Batcher struct {
	mu    sync.Mutex
	depth int
	queue []func()
}

// Batch implements Scheduler.
func (b *Batcher) Batch(fn func()) {
	b.mu.Lock()
	b.depth++
	b.mu.Unlock()
	defer b.exit()
	fn()
}

// Schedule implements Scheduler.
func (b *Batcher) Schedule(cb func()) {
	b.mu.Lock()
	if b.depth > 0 {
		b.queue = append(b.queue, cb)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	cb()
}

func (b *Batcher) exit() {
	b.mu.Lock()
	b.depth--
	var flush []func()
	if b.depth == 0 {
		flush = b.queue
		b.queue = nil
	}
	b.mu.Unlock()
	for _, cb := range flush {
		cb()
	}
}

// Immediate is a Scheduler that never coalesces; every callback runs
// at its call site. Useful in tests that assert per-transition
// delivery.
type Immediate struct{}

// Batch implements Scheduler.
func (Immediate) Batch(fn func()) { fn() }

// Schedule implements Scheduler.
func (Immediate) Schedule(cb func()) { cb() }

var (
	_ Scheduler = (*Batcher)(nil)
	_ Scheduler = Immediate{}
)
