// Package health provides periodic health checks for the wattd daemon.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wattbound/wattd/internal/domain"
	"github.com/wattbound/wattd/internal/infra/metrics"
	"github.com/wattbound/wattd/internal/infra/sqlite"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Sampler is the view of the GPU monitor the freshness check needs.
type Sampler interface {
	LastSample() (pct int, at time.Time, ok bool)
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard wattd checks. monitor may
// be nil when the GPU monitor is disabled.
func NewChecker(db *sqlite.DB, monitor Sampler, stale time.Duration) *Checker {
	checks := []Check{
		{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
		},
	}
	if monitor != nil {
		checks = append(checks, Check{
			Name: "gpu_monitor",
			CheckFn: func(ctx context.Context) error {
				return checkSampleFresh(monitor, stale)
			},
		})
	}
	return &Checker{
		interval: 60 * time.Second,
		checks:   checks,
	}
}

// AddCheck registers an extra check. Call before Run.
func (c *Checker) AddCheck(check Check) {
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkSampleFresh(monitor Sampler, stale time.Duration) error {
	_, at, ok := monitor.LastSample()
	if !ok {
		return nil // Monitor hasn't warmed up yet
	}
	if age := time.Since(at); age > stale {
		return fmt.Errorf("%w: last sample is %v old", domain.ErrSampleStale, age.Round(time.Millisecond))
	}
	return nil
}
