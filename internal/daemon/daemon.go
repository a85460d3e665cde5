package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/wattbound/wattd/internal/api"
	"github.com/wattbound/wattd/internal/domain"
	"github.com/wattbound/wattd/internal/health"
	"github.com/wattbound/wattd/internal/infra/gpumon"
	"github.com/wattbound/wattd/internal/infra/metrics"
	"github.com/wattbound/wattd/internal/infra/pmqos"
	"github.com/wattbound/wattd/internal/infra/sqlite"
	"github.com/wattbound/wattd/internal/qos"
)

// Daemon is the core wattd runtime. It wires together all services.
type Daemon struct {
	Config     Config
	DB         *sqlite.DB
	NodeID     string
	SessionID  string
	Controller *qos.Controller
	Recorder   *pmqos.Recorder
	Latency    *pmqos.CPULatencySink // nil when the platform device is unavailable
	Memory     *pmqos.MemorySink     // fallback sink, always present for status
	Monitor    *gpumon.Monitor       // nil when disabled or no GPU found
	Health     *health.Checker
	Server     *api.Server

	version string
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New(version string) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, version)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, version string) (*Daemon, error) {
	db, err := sqlite.Open(wattdHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		if nodeID, err = db.NodeID(); err != nil {
			db.Close()
			return nil, fmt.Errorf("node identity: %w", err)
		}
	}

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		NodeID:    nodeID,
		SessionID: uuid.NewString(),
		Memory:    pmqos.NewMemorySink(),
		version:   version,
	}

	// The controller fans out to every sink: the kernel latency request
	// (when the device exists), the in-memory mirror, the Prometheus gauge,
	// and the history recorder.
	sinks := pmqos.MultiSink{d.Memory, pmqos.NewMetricsSink()}

	latency, err := pmqos.NewCPULatencySink(cfg.QoS.DevicePath)
	if err != nil {
		log.Printf("[daemon] platform latency device unavailable: %v (dry-run sink only)", err)
	} else {
		d.Latency = latency
		sinks = append(sinks, latency)
	}

	d.Recorder = pmqos.NewRecorder(db, d.SessionID, func() int32 {
		return d.Controller.ActiveCount()
	})
	sinks = append(sinks, d.Recorder)

	d.Controller = qos.NewController(qosConfig(cfg.QoS), sinks)

	// GPU busy monitor
	if cfg.Monitor.Enabled {
		mon, err := gpumon.NewMonitor(monitorConfig(cfg.Monitor), d.Controller)
		if err != nil {
			log.Printf("[daemon] gpu monitor disabled: %v", err)
		} else {
			mon.OnPeriod(func(p domain.OverloadPeriod) {
				if _, err := db.InsertOverloadPeriod(p); err != nil {
					log.Printf("[daemon] record overload period: %v", err)
				}
			})
			d.Monitor = mon
		}
	}

	// Health checker
	d.Health = health.NewChecker(db, samplerOrNil(d.Monitor), 10*parseDuration(cfg.Monitor.PollInterval, 100*time.Millisecond))
	if d.Latency != nil {
		d.Health.AddCheck(health.Check{
			Name: "qos_sink",
			CheckFn: func(ctx context.Context) error {
				return d.Latency.Healthy()
			},
		})
	}

	// API server
	srv := api.NewServer(d.Controller, db, d.Health, nodeID, version)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	if d.Monitor != nil {
		srv.SetMonitor(d.Monitor)
	}
	d.Server = srv

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// The recorder outlives the main context so transitions committed
	// during teardown still reach the database.
	recorderCtx, recorderCancel := context.WithCancel(context.Background())
	go d.Recorder.Run(recorderCtx)

	go d.Health.Run(ctx)

	monitorDone := make(chan struct{})
	if d.Monitor != nil {
		go func() {
			defer close(monitorDone)
			d.Monitor.Run(ctx)
		}()
	} else {
		close(monitorDone)
	}

	go d.syncGauges(ctx)
	go d.pruneHistory(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		// Teardown order matters: the monitor must balance its open
		// overload period before the controller closes, and the controller
		// must close (releasing the latency request) before the recorder
		// stops draining.
		<-monitorDone
		d.Controller.Close()
		recorderCancel()
		d.Recorder.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("wattd serving on http://%s\n", addr)
	if d.Latency == nil {
		fmt.Println("  QoS sink: dry-run (no platform latency device)")
	} else {
		fmt.Printf("  QoS sink: %s\n", pmqos.DefaultDevicePath)
	}
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Controller != nil {
		d.Controller.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// syncGauges mirrors controller counters into Prometheus once a second.
// The committed value itself is pushed by the MetricsSink on each commit.
func (d *Daemon) syncGauges(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.QoSActiveCount.Set(float64(d.Controller.ActiveCount()))
			metrics.QoSMisuse.Set(float64(d.Controller.MisuseCount()))
		}
	}
}

// pruneHistory deletes transition rows older than the configured retention.
func (d *Daemon) pruneHistory(ctx context.Context) {
	retention := parseDuration(d.Config.History.Retention, 168*time.Hour)
	interval := parseDuration(d.Config.History.PruneInterval, time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.DB.PruneTransitionsBefore(time.Now().Add(-retention))
			if err != nil {
				log.Printf("[daemon] prune history: %v", err)
			} else if n > 0 {
				log.Printf("[daemon] pruned %d transition rows", n)
			}
		}
	}
}

// qosConfig converts the TOML section to controller settings.
func qosConfig(cfg QoSConfig) qos.Config {
	out := qos.DefaultConfig()
	if cfg.TargetHz > 0 {
		out.TargetHz = cfg.TargetHz
	}
	if d := parseDuration(cfg.DelayMax, 0); d > 0 {
		out.DelayMaxNs = d.Nanoseconds()
	}
	out.DelaySlopeShift = cfg.DelaySlopeShift
	return out
}

// monitorConfig converts the TOML section to sampler settings.
func monitorConfig(cfg MonitorConfig) gpumon.Config {
	out := gpumon.DefaultConfig()
	out.PollInterval = parseDuration(cfg.PollInterval, out.PollInterval)
	if cfg.BusyEnter > 0 {
		out.BusyEnter = cfg.BusyEnter
	}
	if cfg.BusyExit > 0 {
		out.BusyExit = cfg.BusyExit
	}
	out.BusyPath = cfg.BusyPath
	return out
}

// samplerOrNil avoids handing the checker a typed-nil interface value.
func samplerOrNil(m *gpumon.Monitor) health.Sampler {
	if m == nil {
		return nil
	}
	return m
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
