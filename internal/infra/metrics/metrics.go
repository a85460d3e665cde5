// Package metrics provides Prometheus metrics for wattd — gauges and
// counters for the QoS control loop, the GPU busy monitor, and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── QoS Control Loop ───────────────────────────────────────────────────────

// QoSValue tracks the last committed scaling-response value (-1 = default).
var QoSValue = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wattd",
	Name:      "qos_value",
	Help:      "Last committed QoS scaling-response value (-1 means default/no constraint).",
})

// QoSActiveCount tracks the current overload nesting depth.
var QoSActiveCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wattd",
	Name:      "qos_active_count",
	Help:      "Outstanding OverloadBegin calls without a matching OverloadEnd.",
})

// QoSTransitions counts committed value changes by resulting value.
var QoSTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wattd",
	Name:      "qos_transitions_total",
	Help:      "Total committed QoS value changes.",
}, []string{"value"})

// QoSOverloadPeriods counts completed bottleneck intervals.
var QoSOverloadPeriods = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wattd",
	Name:      "qos_overload_periods_total",
	Help:      "Total completed overload (bottleneck) periods.",
})

// QoSMisuse tracks unbalanced OverloadEnd calls that were ignored.
var QoSMisuse = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wattd",
	Name:      "qos_misuse_calls",
	Help:      "Unbalanced OverloadEnd calls observed and ignored.",
})

// QoSTimerFires counts control-loop commits reaching the sinks, including
// ones that re-assert the current value.
var QoSTimerFires = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wattd",
	Name:      "qos_timer_fires_total",
	Help:      "Total QoS commits delivered to the sinks.",
})

// ─── GPU Monitor ────────────────────────────────────────────────────────────

// GPUBusy tracks the last sampled GPU busy percentage.
var GPUBusy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wattd",
	Name:      "gpu_busy_percent",
	Help:      "Last sampled GPU busy percentage.",
})

// MonitorSamples counts GPU busy samples by outcome.
var MonitorSamples = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wattd",
	Name:      "monitor_samples_total",
	Help:      "Total GPU busy-percent samples taken.",
}, []string{"outcome"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "wattd",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── History ────────────────────────────────────────────────────────────────

// HistoryDropped counts transitions dropped because the recorder queue was
// full (the timer callback never blocks on persistence).
var HistoryDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wattd",
	Name:      "history_dropped_total",
	Help:      "QoS transitions dropped because the history recorder was saturated.",
})
