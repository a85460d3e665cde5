package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestQoSMetrics_Registered(t *testing.T) {
	QoSValue.Set(-1)
	QoSActiveCount.Set(0)
	QoSTransitions.WithLabelValues("2Hz").Inc()
	QoSOverloadPeriods.Inc()
	QoSMisuse.Set(0)
	QoSTimerFires.Inc()

	names := gatherNames(t)
	expected := []string{
		"wattd_qos_value",
		"wattd_qos_active_count",
		"wattd_qos_transitions_total",
		"wattd_qos_overload_periods_total",
		"wattd_qos_misuse_calls",
		"wattd_qos_timer_fires_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestMonitorMetrics_Registered(t *testing.T) {
	GPUBusy.Set(42)
	MonitorSamples.WithLabelValues("ok").Inc()
	MonitorSamples.WithLabelValues("error").Inc()

	names := gatherNames(t)
	if !names["wattd_gpu_busy_percent"] {
		t.Error("wattd_gpu_busy_percent not found")
	}
	if !names["wattd_monitor_samples_total"] {
		t.Error("wattd_monitor_samples_total not found")
	}
}

func TestHealthAndHistoryMetrics_Registered(t *testing.T) {
	HealthCheckStatus.WithLabelValues("sqlite").Set(1)
	HistoryDropped.Add(0)

	names := gatherNames(t)
	if !names["wattd_health_check_status"] {
		t.Error("wattd_health_check_status not found")
	}
	if !names["wattd_history_dropped_total"] {
		t.Error("wattd_history_dropped_total not found")
	}
}
