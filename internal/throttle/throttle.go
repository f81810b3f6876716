// Package throttle rate-limits a function with leading and trailing
// invocations.
package throttle

import (
	"sync"
	"time"
)

// Throttle coalesces bursts of triggers into at most one invocation per
// interval. The first trigger after a quiet period invokes immediately
// (leading edge); triggers arriving during the cooldown are coalesced into
// exactly one deferred invocation when the interval elapses (trailing edge).
//
// Internally a two-state machine: Idle and Cooling. Idle + trigger invokes
// and arms the cooldown timer; Cooling + trigger only records a pending
// flag; timer expiry invokes and re-arms if pending, otherwise returns to
// Idle.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	cooling  bool
	pending  bool
	timer    *time.Timer
	stopped  bool
}

// New creates a Throttle around fn with the given minimum interval between
// invocations.
func New(interval time.Duration, fn func()) *Throttle {
	return &Throttle{interval: interval, fn: fn}
}

// Trigger requests an invocation. It never blocks on fn for the trailing
// edge; the leading edge runs on the caller's goroutine.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.cooling {
		t.pending = true
		t.mu.Unlock()
		return
	}
	t.cooling = true
	t.timer = time.AfterFunc(t.interval, t.expire)
	t.mu.Unlock()

	t.fn()
}

func (t *Throttle) expire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if !t.pending {
		t.cooling = false
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = time.AfterFunc(t.interval, t.expire)
	t.mu.Unlock()

	t.fn()
}

// Stop cancels any scheduled trailing invocation. Subsequent triggers are
// ignored.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
