package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// QoS controller errors
	ErrControllerClosed = errors.New("qos controller is closed")
	ErrUnbalancedEnd    = errors.New("overload end without matching begin")

	// Sink errors
	ErrSinkUnsupported = errors.New("platform qos sink not supported on this OS")
	ErrSinkClosed      = errors.New("qos sink is closed")

	// Monitor errors
	ErrMonitorNoDevice = errors.New("no gpu busy-percent source found")
	ErrSampleStale     = errors.New("gpu monitor sample is stale")

	// History errors
	ErrHistoryEmpty = errors.New("no qos transitions recorded yet")
)
