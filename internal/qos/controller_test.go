package qos

import (
	"sync"
	"testing"
	"time"

	"github.com/wattbound/wattd/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// QoS Controller Tests
// ═══════════════════════════════════════════════════════════════════════════

// fakeClock is a manually-advanced monotonic clock.
type fakeClock struct {
	mu sync.Mutex
	ns int64
}

func (c *fakeClock) NowNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ns
}

func (c *fakeClock) Advance(d int64) {
	c.mu.Lock()
	c.ns += d
	c.mu.Unlock()
}

// manualTimer records ReduceTo calls with reduce semantics but never fires
// on its own; tests drive the callback by calling onTimeout directly.
type manualTimer struct {
	mu       sync.Mutex
	deadline int64
	arms     []int64
	canceled bool
}

func (t *manualTimer) ReduceTo(d int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arms = append(t.arms, d)
	if t.deadline == 0 || d < t.deadline {
		t.deadline = d
	}
}

func (t *manualTimer) CancelAndWait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
	t.deadline = 0
}

func (t *manualTimer) armed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

func (t *manualTimer) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = 0
	t.arms = nil
}

// recordSink records every committed value.
type recordSink struct {
	mu     sync.Mutex
	values []domain.QoSValue
}

func (s *recordSink) SetTarget(v domain.QoSValue) {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
}

func (s *recordSink) last() domain.QoSValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return domain.DefaultValue
	}
	return s.values[len(s.values)-1]
}

func (s *recordSink) saw(v domain.QoSValue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.values {
		if got == v {
			return true
		}
	}
	return false
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeClock, *manualTimer, *recordSink) {
	t.Helper()
	clock := &fakeClock{}
	timer := &manualTimer{}
	sink := &recordSink{}
	c := newController(cfg, sink, clock, timer)
	// Construction commits the initial default; drop it so tests see only
	// their own transitions.
	sink.mu.Lock()
	sink.values = nil
	sink.mu.Unlock()
	return c, clock, timer, sink
}

// startIdle moves the clock far enough past the idle anchor that the next
// OverloadBegin gets the full commit delay.
func startIdle(clock *fakeClock, cfg Config) {
	clock.Advance(4 * cfg.DelayMaxNs)
}

// ─── timeToUpdate Boundaries ────────────────────────────────────────────────

func TestTimeToUpdate_ActiveDeadlinePassed_Zero(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	clock.Advance(cfg.DelayMaxNs + 1) // well past timeSetNs

	if got := c.timeToUpdate(); got != 0 {
		t.Errorf("timeToUpdate() = %d, want 0 (deadline passed must not go negative while active)", got)
	}
}

func TestTimeToUpdate_ActiveClampedToDelayMax(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	if got := c.timeToUpdate(); got != cfg.DelayMaxNs {
		t.Errorf("timeToUpdate() right after begin = %d, want %d", got, cfg.DelayMaxNs)
	}
}

func TestTimeToUpdate_IdleClockNotAdvanced_MinusOne(t *testing.T) {
	cfg := DefaultConfig()
	c, _, _, _ := newTestController(t, cfg)

	// Fresh controller: timeClearNs == now == 0 — the overdue sentinel, not
	// 0 and not a positive wait.
	if got := c.timeToUpdate(); got != -1 {
		t.Errorf("timeToUpdate() with t1 <= t0 = %d, want -1", got)
	}
}

func TestTimeToUpdate_IdleClampedToDelayMax(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, _ := newTestController(t, cfg)

	clock.Advance(1 << 40) // ~18 minutes idle
	if got := c.timeToUpdate(); got != -cfg.DelayMaxNs {
		t.Errorf("timeToUpdate() after long idle = %d, want %d", got, -cfg.DelayMaxNs)
	}
}

func TestTimeToUpdate_MagnitudeNeverExceedsDelayMax(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 3}
	c, clock, _, _ := newTestController(t, cfg)

	advances := []int64{0, 1, 100, 250_000, 1 << 30, 1 << 50}
	for _, adv := range advances {
		clock.Advance(adv)
		if got := abs64(c.timeToUpdate()); got > cfg.DelayMaxNs {
			t.Errorf("after advance %d: |timeToUpdate()| = %d, exceeds DelayMaxNs %d", adv, got, cfg.DelayMaxNs)
		}
	}

	c.OverloadBegin()
	for _, adv := range advances {
		clock.Advance(adv)
		if got := abs64(c.timeToUpdate()); got > cfg.DelayMaxNs {
			t.Errorf("active, after advance %d: |timeToUpdate()| = %d, exceeds DelayMaxNs %d", adv, got, cfg.DelayMaxNs)
		}
	}
}

func TestTimeToUpdate_SlopeShiftScalesIdleElapsed(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 1}
	c, clock, _, _ := newTestController(t, cfg)

	clock.Advance(1000) // 1000ns idle, shift 1 → overdue by 2000
	if got := c.timeToUpdate(); got != -2000 {
		t.Errorf("timeToUpdate() = %d, want -2000 (elapsed << 1)", got)
	}
}

// ─── Scheduling ─────────────────────────────────────────────────────────────

func TestScheduleUpdate_ReducesToSoonest(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, timer, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin() // arms at now + DelayMaxNs
	first := timer.armed()
	if want := clock.NowNanos() + cfg.DelayMaxNs; first != want {
		t.Fatalf("armed deadline = %d, want %d", first, want)
	}

	// Repeated schedule calls at later times must never postpone the
	// pending deadline: armed deadline stays the min over all requests.
	clock.Advance(1000)
	c.scheduleUpdate()
	clock.Advance(1000)
	c.scheduleUpdate()
	if got := timer.armed(); got > first {
		t.Errorf("armed deadline = %d, regressed past first %d", got, first)
	}
}

func TestOverloadBegin_NestedCallsDoNotRearm(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, timer, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	timer.mu.Lock()
	arms := len(timer.arms)
	timer.mu.Unlock()

	c.OverloadBegin()
	c.OverloadBegin()
	timer.mu.Lock()
	got := len(timer.arms)
	timer.mu.Unlock()

	if got != arms {
		t.Errorf("nested OverloadBegin armed the timer: %d arms, want %d", got, arms)
	}
	if c.ActiveCount() != 3 {
		t.Errorf("ActiveCount() = %d, want 3", c.ActiveCount())
	}
}

// ─── Timer Callback ─────────────────────────────────────────────────────────

func TestOnTimeout_CommitsTargetWhenDue(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, sink := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	clock.Advance(cfg.DelayMaxNs)
	c.onTimeout()

	if got := sink.last(); got != domain.QoSValue(cfg.TargetHz) {
		t.Errorf("committed value = %v, want %v", got, domain.QoSValue(cfg.TargetHz))
	}
	if c.Value() != domain.QoSValue(cfg.TargetHz) {
		t.Errorf("Value() = %v, want %v", c.Value(), domain.QoSValue(cfg.TargetHz))
	}
	if c.State() != domain.StateBottleneck {
		t.Errorf("State() = %v, want bottleneck", c.State())
	}
}

func TestOnTimeout_ReschedulesWhileCommitPending(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, timer, sink := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	deadline := timer.armed()

	// Timer fires early (another caller reduced it); the commit is still
	// pending, so the default holds and the timer rearms for the remainder.
	clock.Advance(100)
	timer.clear()
	c.onTimeout()

	if got := sink.last(); got != domain.DefaultValue {
		t.Errorf("early fire committed %v, want default", got)
	}
	if got := timer.armed(); got != deadline {
		t.Errorf("rearmed deadline = %d, want original commit point %d", got, deadline)
	}
}

func TestOnTimeout_RestoresDefaultAfterEnd(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, timer, sink := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	clock.Advance(cfg.DelayMaxNs)
	c.onTimeout()
	if sink.last() != domain.QoSValue(cfg.TargetHz) {
		t.Fatalf("setup: target not committed")
	}

	c.OverloadEnd()
	clock.Advance(1)
	timer.clear()
	c.onTimeout()

	if got := sink.last(); got != domain.DefaultValue {
		t.Errorf("after end, committed = %v, want default", got)
	}
	if got := timer.armed(); got != 0 {
		t.Errorf("settled idle state rearmed the timer at %d, want unarmed", got)
	}
}

// ─── Scenarios ──────────────────────────────────────────────────────────────

// Sustained load commits the target at the delay boundary, and after the
// load ends the value has converged back to default well before a full
// decay window later.
func TestScenario_SustainedBurst(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 0}
	c, clock, timer, sink := newTestController(t, cfg)
	startIdle(clock, cfg)

	begin := clock.NowNanos()
	c.OverloadBegin()
	if got, want := timer.armed(), begin+250_000; got != want {
		t.Fatalf("commit deadline = %d, want %d", got, want)
	}

	clock.Advance(250_000)
	c.onTimeout()
	if got := sink.last(); got != 2 {
		t.Errorf("at t+250000, value = %v, want 2Hz", got)
	}

	c.OverloadEnd()
	clock.Advance(250_000)
	c.onTimeout()
	if got := sink.last(); got != domain.DefaultValue {
		t.Errorf("at t+500000, value = %v, want default", got)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", c.ActiveCount())
	}
}

// A begin/end blip far shorter than the commit delay must never reach the
// sink as the target value.
func TestScenario_BlipNeverCommitsTarget(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 0}
	c, clock, _, sink := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	clock.Advance(1)
	c.OverloadEnd()

	// Run the timer chain to quiescence.
	for i := 0; i < 8; i++ {
		clock.Advance(250_000)
		c.onTimeout()
	}

	if sink.saw(2) {
		t.Errorf("1ns blip committed target value; sink history = %v", sink.values)
	}
	if got := sink.last(); got != domain.DefaultValue {
		t.Errorf("final value = %v, want default", got)
	}
}

// A re-begin shortly after an end keeps the progress already made toward
// the commit point instead of restarting the full delay.
func TestScenario_ReBeginKeepsProgress(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 0}
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	// Bottleneck long enough to commit, then a short 1000ns gap.
	c.OverloadBegin()
	clock.Advance(250_000)
	c.onTimeout()
	c.OverloadEnd()
	clock.Advance(1000)

	c.OverloadBegin()
	if got := c.timeToUpdate(); got != 1000 {
		t.Errorf("re-begin after 1000ns gap: remaining delay = %d, want 1000", got)
	}
}

// With shift=1 the idle clock decays twice as fast: the same gap costs a
// re-begin double the delay, up to the clamp.
func TestScenario_SlopeShiftOne(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: 250_000, DelaySlopeShift: 1}
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	c.OverloadBegin()
	clock.Advance(250_000)
	c.onTimeout()

	// End with dt=0: the idle anchor is seeded at now - (0 >> 1) = now.
	c.OverloadEnd()
	anchor := clock.NowNanos()
	if got := c.timeClearNs.Load(); got != anchor {
		t.Fatalf("timeClearNs = %d, want %d", got, anchor)
	}

	clock.Advance(1000)
	c.OverloadBegin()
	if got := c.timeToUpdate(); got != 2000 {
		t.Errorf("re-begin after 1000ns gap with shift=1: remaining delay = %d, want 2000", got)
	}
}

// ─── Balance & Misuse ───────────────────────────────────────────────────────

func TestOverloadEnd_BalancedSequencesReturnToZero(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	sequences := [][]bool{ // true = begin, false = end
		{true, false},
		{true, true, false, false},
		{true, true, false, true, false, false},
	}
	for _, seq := range sequences {
		for _, begin := range seq {
			if begin {
				c.OverloadBegin()
			} else {
				c.OverloadEnd()
			}
			clock.Advance(10)
		}
		if got := c.ActiveCount(); got != 0 {
			t.Errorf("after balanced sequence %v: ActiveCount() = %d, want 0", seq, got)
		}
	}
	if c.MisuseCount() != 0 {
		t.Errorf("MisuseCount() = %d, want 0", c.MisuseCount())
	}
}

func TestOverloadEnd_UnbalancedSaturatesAndFlags(t *testing.T) {
	cfg := DefaultConfig()
	c, _, _, _ := newTestController(t, cfg)

	c.OverloadEnd()
	c.OverloadEnd()

	if got := c.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0 (must not wrap negative)", got)
	}
	if got := c.MisuseCount(); got != 2 {
		t.Errorf("MisuseCount() = %d, want 2", got)
	}

	// The controller still classifies correctly afterwards.
	c.OverloadBegin()
	if c.State() != domain.StateBottleneck {
		t.Errorf("State() after recovery = %v, want bottleneck", c.State())
	}
}

func TestTrack_PairsBeginEnd(t *testing.T) {
	cfg := DefaultConfig()
	c, clock, _, _ := newTestController(t, cfg)
	startIdle(clock, cfg)

	func() {
		defer c.Track()()
		if c.ActiveCount() != 1 {
			t.Errorf("inside Track: ActiveCount() = %d, want 1", c.ActiveCount())
		}
	}()
	if c.ActiveCount() != 0 {
		t.Errorf("after Track: ActiveCount() = %d, want 0", c.ActiveCount())
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

type closerSink struct {
	recordSink
	closed bool
}

func (s *closerSink) Close() error {
	s.closed = true
	return nil
}

func TestClose_CancelsTimerThenReleasesSink(t *testing.T) {
	clock := &fakeClock{}
	timer := &manualTimer{}
	sink := &closerSink{}
	c := newController(DefaultConfig(), sink, clock, timer)

	c.Close()
	c.Close() // idempotent

	if !timer.canceled {
		t.Error("Close did not cancel the timer")
	}
	if !sink.closed {
		t.Error("Close did not release the sink")
	}
}

// ─── Concurrency ────────────────────────────────────────────────────────────

// Hammer the controller from many goroutines with the production timer and
// clock; afterwards the count is balanced and the value settles to default.
func TestController_ConcurrentBalancedCallers(t *testing.T) {
	cfg := Config{TargetHz: 2, DelayMaxNs: int64(time.Millisecond), DelaySlopeShift: 0}
	sink := &recordSink{}
	c := NewController(cfg, sink)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.OverloadBegin()
				time.Sleep(10 * time.Microsecond)
				c.OverloadEnd()
			}
		}()
	}
	wg.Wait()

	if got := c.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
	if got := c.MisuseCount(); got != 0 {
		t.Fatalf("MisuseCount() = %d, want 0", got)
	}

	// Converge: the last end arms the timer; give the chain time to settle.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Value() == domain.DefaultValue {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Value() = %v, want default after idle window", c.Value())
}

// ─── Saturating Shift ───────────────────────────────────────────────────────

func TestShiftSat(t *testing.T) {
	tests := []struct {
		v     int64
		shift uint
		want  int64
	}{
		{0, 4, 0},
		{1000, 0, 1000},
		{1000, 1, 2000},
		{1 << 62, 2, 1<<63 - 1},   // saturates
		{1<<63 - 1, 1, 1<<63 - 1}, // saturates
	}
	for _, tt := range tests {
		if got := shiftSat(tt.v, tt.shift); got != tt.want {
			t.Errorf("shiftSat(%d, %d) = %d, want %d", tt.v, tt.shift, got, tt.want)
		}
	}
}
