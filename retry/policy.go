package retry

import (
	"errors"
	"math"
	"time"
)

// Stop is returned by a Policy to give up retrying.
const Stop time.Duration = -1

// Policy decides whether, and after what delay, a failed attempt is
// retried. failures is the number of attempts that have failed so far
// (1 after the first failure). Implementations must be safe for use
// from a single retryer goroutine; they may keep per-operation state
// because each operation gets its own Policy value.
type Policy interface {
	Next(failures int, err error) time.Duration
}

// Limited retries up to Retries times with a fixed Delay between
// attempts. Retries < 0 retries forever.
type Limited struct {
	Delay   time.Duration
	Retries int
}

// Next implements Policy.
func (l Limited) Next(failures int, _ error) time.Duration {
	if l.Retries >= 0 && failures > l.Retries {
		return Stop
	}
	return l.Delay
}

// ExponentialBackoff retries with an exponentially growing delay:
// Delay * Multiplier^(failures-1), capped at MaxDelay.
type ExponentialBackoff struct {
	Limited

	MaxDelay   time.Duration
	Multiplier float64
}

// Next implements Policy.
func (b ExponentialBackoff) Next(failures int, err error) time.Duration {
	next := b.Limited.Next(failures, err)
	if next == Stop {
		return Stop
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(next) * math.Pow(mult, float64(failures-1))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// None never retries; every failure is final.
type None struct{}

// Next implements Policy.
func (None) Next(int, error) time.Duration { return Stop }

// Default returns the policy used when none is configured:
// 3 retries with delays of 1s, 2s, 4s … capped at 30s.
func Default() Policy {
	return ExponentialBackoff{
		Limited:    Limited{Delay: time.Second, Retries: 3},
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

// unrecoverableError marks an error that must never be retried,
// whatever the active policy says.
type unrecoverableError struct{ error }

func (e unrecoverableError) Unwrap() error { return e.error }

// Unrecoverable wraps err so the retryer fails immediately instead of
// consulting the policy. A nil err returns nil.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err}
}

// IsUnrecoverable reports whether err or anything it wraps was marked
// with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue unrecoverableError
	return errors.As(err, &ue)
}
