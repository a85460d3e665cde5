package qos

import (
	"sync"
	"time"
)

// Timer is the deferred-callback primitive the controller schedules on.
// ReduceTo rearms only if the requested deadline is sooner than the one
// already armed — burst callers collapse into the soonest wake-up.
// CancelAndWait blocks until no callback is in flight.
type Timer interface {
	ReduceTo(deadlineNs int64)
	CancelAndWait()
}

// reduceTimer implements Timer on time.AfterFunc. The callback never
// overlaps itself: fires serialize on runMu, and CancelAndWait joins the
// in-flight callback by acquiring it.
type reduceTimer struct {
	clock Clock
	fn    func()

	mu       sync.Mutex // guards deadline, timer, stopped
	runMu    sync.Mutex // held for the duration of each callback
	deadline int64      // armed absolute deadline; 0 = unarmed
	timer    *time.Timer
	stopped  bool
}

func newReduceTimer(clock Clock, fn func()) *reduceTimer {
	return &reduceTimer{clock: clock, fn: fn}
}

// ReduceTo arms the timer for deadlineNs unless an earlier deadline is
// already armed. Safe to call concurrently and from within the callback.
func (t *reduceTimer) ReduceTo(deadlineNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.deadline != 0 && t.deadline <= deadlineNs {
		return // an earlier (or equal) wake-up is already pending
	}
	t.deadline = deadlineNs

	d := time.Duration(deadlineNs - t.clock.NowNanos())
	if d < 0 {
		d = 0
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.fire)
	} else {
		t.timer.Reset(d)
	}
}

func (t *reduceTimer) fire() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if t.stopped || t.deadline == 0 {
		t.mu.Unlock()
		return
	}
	now := t.clock.NowNanos()
	if now < t.deadline {
		// Stale fire from a Reset race; rearm for the remaining wait.
		t.timer.Reset(time.Duration(t.deadline - now))
		t.mu.Unlock()
		return
	}
	t.deadline = 0
	t.mu.Unlock()

	t.fn()
}

// CancelAndWait disarms the timer and blocks until any in-flight callback
// has returned. The timer stays dead afterwards; later ReduceTo calls are
// no-ops. Must not be called from inside the callback.
func (t *reduceTimer) CancelAndWait() {
	t.mu.Lock()
	t.stopped = true
	t.deadline = 0
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	// A callback that passed the stopped check is already running; acquiring
	// runMu is the join point.
	t.runMu.Lock()
	defer t.runMu.Unlock()
}
