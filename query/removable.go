package query

import (
	"sync"
	"time"
)

// removable is the eviction-scheduler mixin: a single delayed removal
// timer armed while the owner is unobserved. It does timer bookkeeping
// only; removal itself is the owner's callback, which re-checks that
// the entry is actually collectable when the timer fires.
type removable struct {
	mu       sync.Mutex
	gcTime   time.Duration
	timer    *time.Timer
	deadline time.Time
	remove   func()
}

// raise raises the effective removal delay to d. The delay only ever
// grows: an entry once kept for 5 minutes is not demoted because a
// later caller asked for less. A pending timer is re-armed when the
// raised delay exceeds its remaining time, so the entry survives for
// the full new delay.
func (r *removable) raise(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > r.gcTime {
		r.gcTime = d
	}
	if r.timer == nil || r.remove == nil {
		return
	}
	if r.gcTime == GCNever {
		r.timer.Stop()
		r.timer = nil
		return
	}
	if r.gcTime > time.Until(r.deadline) {
		r.timer.Stop()
		r.timer = time.AfterFunc(r.gcTime, r.remove)
		r.deadline = time.Now().Add(r.gcTime)
	}
}

// schedule (re)arms the removal timer. GCNever leaves the owner
// resident forever.
func (r *removable) schedule(remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove = remove
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.gcTime == GCNever {
		return
	}
	r.timer = time.AfterFunc(r.gcTime, remove)
	r.deadline = time.Now().Add(r.gcTime)
}

// clear disarms a pending removal timer.
func (r *removable) clear() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}
