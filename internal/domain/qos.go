// Package domain holds the shared types of wattd: QoS values, overload
// state, and transition records. Domain types are pure — no infrastructure
// dependency.
package domain

import (
	"strconv"
	"time"
)

// QoSValue is the scaling-response constraint submitted to the platform
// power-management layer. DefaultValue means "no constraint".
type QoSValue int32

// DefaultValue is the sentinel for the unconstrained, power-saving-friendly
// CPU response mode.
const DefaultValue QoSValue = -1

// IsDefault reports whether the value is the no-constraint sentinel.
func (v QoSValue) IsDefault() bool { return v == DefaultValue }

// String returns a human-readable QoS value.
func (v QoSValue) String() string {
	if v == DefaultValue {
		return "default"
	}
	return strconv.FormatInt(int64(v), 10) + "Hz"
}

// OverloadState classifies whether the tracked resource is currently
// considered the bottleneck.
type OverloadState int

const (
	StateIdle       OverloadState = iota // resource not driving work
	StateBottleneck                      // resource actively the bottleneck
)

// String returns a human-readable overload state.
func (s OverloadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBottleneck:
		return "bottleneck"
	default:
		return "unknown"
	}
}

// Transition records one committed QoS request update.
type Transition struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Value       QoSValue  `json:"value"`
	ActiveCount int32     `json:"active_count"`
	Reason      string    `json:"reason"`
}

// OverloadPeriod records one completed bottleneck interval.
type OverloadPeriod struct {
	ID      int64     `json:"id"`
	BeganAt time.Time `json:"began_at"`
	EndedAt time.Time `json:"ended_at"`
}

// Duration returns the length of the period.
func (p OverloadPeriod) Duration() time.Duration {
	return p.EndedAt.Sub(p.BeganAt)
}
