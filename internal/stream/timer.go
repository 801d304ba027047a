package stream

import (
	"sync"
	"time"
)

// revocable is a one-shot timer whose callback can be invalidated after
// scheduling. Unlike [time.Timer.Stop], Revoke also wins the race against a
// callback that has already fired but not yet run: the callback checks the
// revoked flag before executing.
//
// Timer callbacks in this package additionally re-check controller state
// before mutating anything — a retry or watchdog timer that fires after a
// user-initiated stop must observe the stop and do nothing.
type revocable struct {
	mu      sync.Mutex
	revoked bool
	timer   *time.Timer
}

// afterFunc schedules fn to run once after d, unless Revoke is called first.
func afterFunc(d time.Duration, fn func()) *revocable {
	r := &revocable{}
	r.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		revoked := r.revoked
		r.mu.Unlock()
		if revoked {
			return
		}
		fn()
	})
	return r
}

// Revoke invalidates the timer. The callback will not run after Revoke
// returns, even if the underlying timer has already fired. Safe to call
// multiple times and on a nil receiver.
func (r *revocable) Revoke() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.revoked = true
	r.mu.Unlock()
	r.timer.Stop()
}
