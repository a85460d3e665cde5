package qos

import "time"

// Clock provides monotonically non-decreasing nanosecond timestamps.
type Clock interface {
	NowNanos() int64
}

// realClock anchors at construction so every reading goes through Go's
// monotonic clock and is immune to wall-clock steps.
type realClock struct {
	start time.Time
}

// NewClock returns the production monotonic clock.
func NewClock() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) NowNanos() int64 {
	return int64(time.Since(c.start))
}
