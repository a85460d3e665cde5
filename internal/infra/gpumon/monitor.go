// Package gpumon samples GPU utilization from platform sensors and reports
// overload periods to the QoS controller: one OverloadBegin when busy
// crosses the enter threshold, the matching OverloadEnd when it falls back
// below the exit threshold. The gap between the two thresholds keeps the
// monitor from chattering around a single boundary.
package gpumon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wattbound/wattd/internal/domain"
	"github.com/wattbound/wattd/internal/infra/metrics"
)

// Config controls sampling and thresholds.
type Config struct {
	PollInterval time.Duration // default 100ms
	BusyEnter    int           // busy % at or above which the GPU counts as the bottleneck (default 90)
	BusyExit     int           // busy % below which the overload period ends (default 75)
	BusyPath     string        // explicit busy-percent source; empty = autodetect
}

// DefaultConfig returns production monitor defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		BusyEnter:    90,
		BusyExit:     75,
	}
}

// Tracker is the overload-reporting surface of the QoS controller.
type Tracker interface {
	OverloadBegin()
	OverloadEnd()
}

// Monitor polls a GPU busy-percent source and drives a Tracker.
type Monitor struct {
	cfg     Config
	tracker Tracker
	source  busySource

	mu          sync.RWMutex
	lastPct     int
	lastAt      time.Time
	overloaded  bool
	periodBegan time.Time

	// onPeriod, when set, receives each completed overload period.
	onPeriod func(domain.OverloadPeriod)
}

// NewMonitor locates a busy-percent source and wires it to the tracker.
// Returns domain.ErrMonitorNoDevice when no GPU exposes utilization.
func NewMonitor(cfg Config, tracker Tracker) (*Monitor, error) {
	var src busySource
	var err error
	if cfg.BusyPath != "" {
		src = fileSource{path: cfg.BusyPath}
	} else if src, err = discoverSource(); err != nil {
		return nil, err
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Monitor{cfg: cfg, tracker: tracker, source: src}, nil
}

// OnPeriod registers a callback for completed overload periods. Call
// before Run.
func (m *Monitor) OnPeriod(fn func(domain.OverloadPeriod)) {
	m.onPeriod = fn
}

// Run starts the sampling loop. Call in a goroutine. On exit any open
// overload period is closed so the tracker stays balanced.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			open := m.overloaded
			m.overloaded = false
			began := m.periodBegan
			m.mu.Unlock()
			if open {
				m.tracker.OverloadEnd()
				m.finishPeriod(began)
			}
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample takes one reading and applies threshold hysteresis.
func (m *Monitor) sample() {
	pct, err := m.source.busyPercent()
	if err != nil {
		metrics.MonitorSamples.WithLabelValues("error").Inc()
		log.Printf("[gpumon] sample: %v", err)
		return
	}
	metrics.MonitorSamples.WithLabelValues("ok").Inc()
	metrics.GPUBusy.Set(float64(pct))

	m.mu.Lock()
	m.lastPct = pct
	m.lastAt = time.Now()

	switch {
	case !m.overloaded && pct >= m.cfg.BusyEnter:
		m.overloaded = true
		m.periodBegan = m.lastAt
		m.mu.Unlock()
		m.tracker.OverloadBegin()
	case m.overloaded && pct < m.cfg.BusyExit:
		m.overloaded = false
		began := m.periodBegan
		m.mu.Unlock()
		m.tracker.OverloadEnd()
		m.finishPeriod(began)
	default:
		m.mu.Unlock()
	}
}

func (m *Monitor) finishPeriod(began time.Time) {
	metrics.QoSOverloadPeriods.Inc()
	if m.onPeriod != nil {
		m.onPeriod(domain.OverloadPeriod{BeganAt: began, EndedAt: time.Now()})
	}
}

// LastSample returns the most recent busy reading and its timestamp.
func (m *Monitor) LastSample() (pct int, at time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPct, m.lastAt, !m.lastAt.IsZero()
}

// Overloaded reports whether an overload period is currently open.
func (m *Monitor) Overloaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overloaded
}
