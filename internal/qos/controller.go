// Package qos implements the adaptive power/performance QoS control loop.
//
// A Controller tracks whether a GPU-like resource is currently the
// bottleneck (via nested OverloadBegin/OverloadEnd calls) and drives a
// delayed, hysteretic target update into a Sink: the bottleneck value is
// committed only after sustained load, and the default value is restored
// on an accelerating threshold once load stops. Short blips in either
// direction never reach the sink.
package qos

import (
	"io"
	"log"
	"math"
	"sync/atomic"

	"github.com/wattbound/wattd/internal/domain"
)

// Sink accepts QoS target updates. The controller is the single writer;
// SetTarget is only ever called from the timer callback, one at a time.
type Sink interface {
	SetTarget(v domain.QoSValue)
}

// Config tunes the control loop.
type Config struct {
	// TargetHz is the scaling-response frequency requested while the
	// resource is the bottleneck.
	TargetHz int32
	// DelayMaxNs bounds the magnitude of any single computed delay, in
	// either direction.
	DelayMaxNs int64
	// DelaySlopeShift is the exponent applied to elapsed idle time when
	// computing the return-to-default threshold. Larger values make the
	// controller more sensitive to short gaps in load, which usually
	// indicate a latency-bound workload.
	DelaySlopeShift uint
}

// DefaultConfig returns the control-loop defaults.
func DefaultConfig() Config {
	return Config{
		TargetHz:        2,
		DelayMaxNs:      250_000,
		DelaySlopeShift: 0,
	}
}

// Controller owns the QoS request state for one tracked resource.
// OverloadBegin/OverloadEnd may be called from any number of goroutines;
// the timer callback is the only code path that touches the sink.
type Controller struct {
	clock Clock
	sink  Sink
	timer Timer

	targetHz        int32
	delayMaxNs      int64
	delaySlopeShift uint

	// timeSetNs is the deadline at which the bottleneck transition commits;
	// timeClearNs anchors the idle-decay clock. Both are written before the
	// activeCount update that makes them observable to the timer.
	timeSetNs   atomic.Int64
	timeClearNs atomic.Int64

	// activeCount > 0 means the resource is currently considered the
	// bottleneck. Every OverloadEnd must pair with a prior OverloadBegin.
	activeCount atomic.Int32

	committed atomic.Int32 // last value handed to the sink
	misuse    atomic.Int64 // unbalanced OverloadEnd calls observed
	closed    atomic.Bool

	notifier *Notifier
}

// NewController creates a controller and parks the sink at DefaultValue.
// Call Close at teardown; it cancels the timer before releasing the sink.
func NewController(cfg Config, sink Sink) *Controller {
	return newController(cfg, sink, NewClock(), nil)
}

// newController wires an explicit clock and timer. A nil timer gets the
// production reduceTimer. Tests inject both for determinism.
func newController(cfg Config, sink Sink, clock Clock, timer Timer) *Controller {
	c := &Controller{
		clock:           clock,
		sink:            sink,
		targetHz:        cfg.TargetHz,
		delayMaxNs:      cfg.DelayMaxNs,
		delaySlopeShift: cfg.DelaySlopeShift,
		notifier:        NewNotifier(),
	}
	if timer == nil {
		timer = newReduceTimer(clock, c.onTimeout)
	}
	c.timer = timer

	c.committed.Store(int32(domain.DefaultValue))
	sink.SetTarget(domain.DefaultValue)
	return c
}

// timeToUpdate computes the time increment until the most immediate QoS
// update, in nanoseconds.
//
// Positive: the resource is the bottleneck but the request doesn't reflect
// that yet — wait this long. Zero: an update to the bottleneck value is due
// now. Negative: the resource is idle and the default value is (over)due;
// the magnitude grows with idle time, scaled by 2^DelaySlopeShift. The
// result is clamped to ±DelayMaxNs, and the idle branch returns exactly -1
// when the clock hasn't advanced past the idle anchor.
func (c *Controller) timeToUpdate() int64 {
	t1 := c.clock.NowNanos()
	dt1 := c.delayMaxNs

	if c.activeCount.Load() > 0 {
		t0 := c.timeSetNs.Load()
		if t0 <= t1 {
			return 0
		}
		return min(dt1, t0-t1)
	}

	t0 := c.timeClearNs.Load()
	if t1 <= t0 {
		return -1
	}
	return -min(dt1, shiftSat(t1-t0, c.delaySlopeShift))
}

// scheduleUpdate arms the timer for the next due update, never postponing
// an already-armed earlier deadline.
func (c *Controller) scheduleUpdate() {
	dt := c.timeToUpdate()
	if dt < 0 {
		dt = 0
	}
	c.timer.ReduceTo(c.clock.NowNanos() + dt)
}

// onTimeout runs when the armed delay elapses. It commits the target value
// if the bottleneck delay has fully elapsed, otherwise restores the
// default, and rearms while a future transition is still pending.
func (c *Controller) onTimeout() {
	dt := c.timeToUpdate()

	value := domain.DefaultValue
	if dt == 0 {
		value = domain.QoSValue(c.targetHz)
	}
	c.commit(value)

	if dt > 0 {
		c.scheduleUpdate()
	}
}

func (c *Controller) commit(v domain.QoSValue) {
	prev := domain.QoSValue(c.committed.Swap(int32(v)))
	c.sink.SetTarget(v)

	if prev != v {
		state := domain.StateIdle
		if !v.IsDefault() {
			state = domain.StateBottleneck
		}
		c.notifier.publish(Event{State: state, Value: v})
	}
}

// OverloadBegin reports that the resource has become the bottleneck.
// Nestable: only the first of overlapping calls arms the timer. May
// trigger the more energy-efficient CPU response mode, but only after the
// configured delay has elapsed, so ramp-up latency is unaffected unless
// the resource stays busy long enough.
func (c *Controller) OverloadBegin() {
	dt := abs64(c.timeToUpdate())
	c.timeSetNs.Store(c.clock.NowNanos() + dt)

	if c.activeCount.Add(1) == 1 {
		c.scheduleUpdate()
	}
}

// OverloadEnd reports that a period of bottleneck activity has ended.
// Must be called exactly once per prior OverloadBegin. An extra call is a
// caller bug: it is counted, logged, and ignored rather than allowed to
// wrap the nesting counter.
func (c *Controller) OverloadEnd() {
	dt := abs64(c.timeToUpdate())
	c.timeClearNs.Store(c.clock.NowNanos() - (dt >> c.delaySlopeShift))

	n := c.activeCount.Add(-1)
	switch {
	case n == 0:
		c.scheduleUpdate()
	case n < 0:
		c.activeCount.Add(1)
		c.misuse.Add(1)
		log.Printf("[qos] %v (ignored)", domain.ErrUnbalancedEnd)
	}
}

// Track is the scoped form of OverloadBegin: it marks the resource busy
// and returns the matching end call, for use as `defer c.Track()()`.
func (c *Controller) Track() func() {
	c.OverloadBegin()
	return c.OverloadEnd
}

// Value returns the last value committed to the sink.
func (c *Controller) Value() domain.QoSValue {
	return domain.QoSValue(c.committed.Load())
}

// ActiveCount returns the current overload nesting depth.
func (c *Controller) ActiveCount() int32 {
	return c.activeCount.Load()
}

// State classifies the controller as idle or bottlenecked.
func (c *Controller) State() domain.OverloadState {
	if c.activeCount.Load() > 0 {
		return domain.StateBottleneck
	}
	return domain.StateIdle
}

// MisuseCount returns how many unbalanced OverloadEnd calls were ignored.
func (c *Controller) MisuseCount() int64 {
	return c.misuse.Load()
}

// Notifier returns the overload-state notifier for this controller.
func (c *Controller) Notifier() *Notifier {
	return c.notifier
}

// Close cancels the timer, waits for any in-flight callback, and then
// releases the sink if it is closeable. Safe to call more than once.
func (c *Controller) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.timer.CancelAndWait()
	if closer, ok := c.sink.(io.Closer); ok {
		_ = closer.Close()
	}
}

// shiftSat is v << shift saturating at MaxInt64 instead of overflowing.
func shiftSat(v int64, shift uint) int64 {
	if shift == 0 || v <= 0 {
		return v
	}
	if v > math.MaxInt64>>shift {
		return math.MaxInt64
	}
	return v << shift
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
