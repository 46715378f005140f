// Package retry executes a fallible operation with pluggable
// retry/backoff policy, pause/resume gating, and cooperative
// cancellation. It is the single shared retry component used by the
// query cache; the caller supplies lifecycle callbacks and receives a
// Future shared by everyone interested in the outcome.
package retry

import (
	"errors"
	"sync"
	"time"
)

// CancelOptions modify how an in-flight operation is cancelled.
type CancelOptions struct {
	// Revert asks the owner to roll state back to its pre-operation
	// snapshot instead of recording an error.
	Revert bool
	// Silent suppresses all error notification for this cancellation.
	Silent bool
}

// CancelledError is the rejection value of a cancelled operation.
// Cancellation is not a failure of the underlying resource; owners
// inspect Revert/Silent to decide how (and whether) to surface it.
type CancelledError struct {
	Revert bool
	Silent bool
}

// Error implements error.
func (e *CancelledError) Error() string { return "retry: operation cancelled" }

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// Config describes one retried operation.
type Config[V any] struct {
	// Fn runs a single attempt. Required unless Initial is set.
	Fn func() (V, error)

	// Initial, if non-nil, is adopted as the first attempt instead of
	// calling Fn (used when resuming an operation whose result is
	// already being produced elsewhere, e.g. restored hydration).
	Initial *Future[V]

	// Abort interrupts the currently running attempt (typically by
	// cancelling the attempt's context). Called once on Cancel.
	Abort func()

	// Lifecycle callbacks. All optional; invoked from the retryer
	// goroutine, one at a time.
	//
	// OnSuccess may veto publication by returning an error, which
	// becomes the operation's rejection value. OnError is not invoked
	// for a veto; the owner already handled the failure inside
	// OnSuccess.
	OnSuccess  func(V) error
	OnError    func(error)
	OnFail     func(failures int, err error)
	OnPause    func()
	OnContinue func()

	// Policy decides retries; nil means Default().
	Policy Policy

	// CanRun gates execution (the network-mode predicate). When it
	// returns false the operation pauses until Continue is called.
	// nil means "always".
	CanRun func() bool
}

// Retryer is the handle of one started operation.
type Retryer[V any] struct {
	cfg    Config[V]
	future *Future[V]

	mu             sync.Mutex
	cancelErr      *CancelledError
	retryCancelled bool
	settled        bool

	cancelCh   chan struct{} // closed once on Cancel
	continueCh chan struct{} // buffered wake-up for paused state
}

// Start begins executing cfg in its own goroutine and returns the
// operation handle immediately.
func Start[V any](cfg Config[V]) *Retryer[V] {
	if cfg.Policy == nil {
		cfg.Policy = Default()
	}
	if cfg.CanRun == nil {
		cfg.CanRun = func() bool { return true }
	}
	r := &Retryer[V]{
		cfg:        cfg,
		future:     NewFuture[V](),
		cancelCh:   make(chan struct{}),
		continueCh: make(chan struct{}, 1),
	}
	go r.run()
	return r
}

// Promise returns the shared result future.
func (r *Retryer[V]) Promise() *Future[V] { return r.future }

// Cancel settles the operation with a CancelledError, invokes the
// Abort callback to interrupt the running attempt, and wakes any
// pause/backoff wait. Later results from the attempt are dropped.
// No-op if the operation already settled.
func (r *Retryer[V]) Cancel(opts CancelOptions) {
	ce := &CancelledError{Revert: opts.Revert, Silent: opts.Silent}
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return
	}
	if r.cancelErr == nil {
		r.cancelErr = ce
		close(r.cancelCh)
	}
	r.mu.Unlock()

	r.reject(ce)
	if r.cfg.Abort != nil {
		r.cfg.Abort()
	}
}

// CancelRetry stops future retries while letting the current attempt
// run to completion; its result is still published.
func (r *Retryer[V]) CancelRetry() {
	r.mu.Lock()
	r.retryCancelled = true
	r.mu.Unlock()
}

// ContinueRetry re-enables retries after CancelRetry.
func (r *Retryer[V]) ContinueRetry() {
	r.mu.Lock()
	r.retryCancelled = false
	r.mu.Unlock()
}

// Continue wakes the operation if it is paused waiting for CanRun.
func (r *Retryer[V]) Continue() {
	select {
	case r.continueCh <- struct{}{}:
	default:
	}
}

// ---- internals ----

func (r *Retryer[V]) run() {
	failures := 0
	first := true
	for {
		if !r.pauseUntilRunnable() {
			return // cancelled while paused
		}

		var (
			v   V
			err error
		)
		switch {
		case first && r.cfg.Initial != nil:
			select {
			case <-r.cfg.Initial.Done():
			case <-r.cancelCh:
				return // already rejected by Cancel
			}
			v, err = r.cfg.Initial.Result()
		default:
			v, err = r.cfg.Fn()
		}
		first = false

		if ce := r.cancelled(); ce != nil {
			return // already rejected by Cancel
		}
		if err == nil {
			r.resolve(v)
			return
		}

		failures++
		delay := Stop
		if !IsUnrecoverable(err) && !r.isRetryCancelled() {
			delay = r.cfg.Policy.Next(failures, err)
		}
		if delay < 0 {
			r.reject(err)
			return
		}

		if r.cfg.OnFail != nil {
			r.cfg.OnFail(failures, err)
		}
		if !r.sleep(delay) {
			return // cancelled during backoff
		}
	}
}

// pauseUntilRunnable blocks while CanRun is false, reporting pause and
// resume through the callbacks. Returns false if cancelled meanwhile.
func (r *Retryer[V]) pauseUntilRunnable() bool {
	if r.cfg.CanRun() {
		return true
	}
	if r.cfg.OnPause != nil {
		r.cfg.OnPause()
	}
	for {
		select {
		case <-r.continueCh:
			if r.cfg.CanRun() {
				if r.cfg.OnContinue != nil {
					r.cfg.OnContinue()
				}
				return true
			}
		case <-r.cancelCh:
			return false
		}
	}
}

// sleep waits for the backoff delay; returns false if cancelled.
func (r *Retryer[V]) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.cancelCh:
		return false
	}
}

func (r *Retryer[V]) cancelled() *CancelledError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelErr
}

func (r *Retryer[V]) isRetryCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCancelled
}

// resolve publishes success exactly once.
func (r *Retryer[V]) resolve(v V) {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return
	}
	r.settled = true
	r.mu.Unlock()

	if r.cfg.OnSuccess != nil {
		if err := r.cfg.OnSuccess(v); err != nil {
			r.future.Reject(err)
			return
		}
	}
	r.future.Resolve(v)
}

// reject publishes failure exactly once.
func (r *Retryer[V]) reject(err error) {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return
	}
	r.settled = true
	r.mu.Unlock()

	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
	r.future.Reject(err)
}
