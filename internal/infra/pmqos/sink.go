// Package pmqos implements QoS request sinks: destinations for the
// controller's committed scaling-response values. The platform sink writes
// a CPU latency bound derived from the target frequency; composite sinks
// fan updates out to metrics and history.
package pmqos

import (
	"io"
	"sync/atomic"

	"github.com/wattbound/wattd/internal/domain"
	"github.com/wattbound/wattd/internal/infra/metrics"
	"github.com/wattbound/wattd/internal/qos"
)

// MemorySink records the last committed value. Used as the fallback when
// no platform sink is available, and by the API status endpoint.
type MemorySink struct {
	value atomic.Int32
}

// NewMemorySink starts at the default value.
func NewMemorySink() *MemorySink {
	s := &MemorySink{}
	s.value.Store(int32(domain.DefaultValue))
	return s
}

// SetTarget stores the value.
func (s *MemorySink) SetTarget(v domain.QoSValue) {
	s.value.Store(int32(v))
}

// Value returns the last committed value.
func (s *MemorySink) Value() domain.QoSValue {
	return domain.QoSValue(s.value.Load())
}

// MultiSink fans each update out to every member, in order.
type MultiSink []qos.Sink

// SetTarget forwards the value to all members.
func (m MultiSink) SetTarget(v domain.QoSValue) {
	for _, s := range m {
		s.SetTarget(v)
	}
}

// Close closes every closeable member, returning the first error.
func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// MetricsSink mirrors committed values into Prometheus.
type MetricsSink struct {
	last atomic.Int32
}

// NewMetricsSink starts at the default value.
func NewMetricsSink() *MetricsSink {
	s := &MetricsSink{}
	s.last.Store(int32(domain.DefaultValue))
	return s
}

// SetTarget updates the value gauge and counts actual changes.
func (s *MetricsSink) SetTarget(v domain.QoSValue) {
	metrics.QoSTimerFires.Inc()
	metrics.QoSValue.Set(float64(v))
	if prev := s.last.Swap(int32(v)); domain.QoSValue(prev) != v {
		metrics.QoSTransitions.WithLabelValues(v.String()).Inc()
	}
}
