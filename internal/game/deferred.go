package game

import (
	"sync/atomic"
	"time"
)

const (
	deferredPending int32 = iota
	deferredFired
	deferredCancelled
)

// Deferred is a one-shot delayed callback that either fires or is cancelled,
// never both. Cancel is idempotent and safe on a nil handle.
type Deferred struct {
	state atomic.Int32
	timer Timer
}

// Schedule runs fn after d on clock c. A non-positive d fires as soon as possible.
func Schedule(c Clock, d time.Duration, fn func()) *Deferred {
	if d < 0 {
		d = 0
	}
	t := &Deferred{}
	t.timer = c.AfterFunc(d, func() {
		if t.state.CompareAndSwap(deferredPending, deferredFired) {
			fn()
		}
	})
	return t
}

// Cancel prevents the callback from running. It reports whether this call
// did the cancelling.
func (t *Deferred) Cancel() bool {
	if t == nil || !t.state.CompareAndSwap(deferredPending, deferredCancelled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

func (t *Deferred) Pending() bool {
	return t != nil && t.state.Load() == deferredPending
}
