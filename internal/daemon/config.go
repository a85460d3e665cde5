// Package daemon manages the wattd daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	QoS       QoSConfig       `toml:"qos"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
	History   HistoryConfig   `toml:"history"`
}

// NodeConfig identifies this node. An empty ID is generated on first run
// and persisted in the database.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// QoSConfig tunes the control loop and its platform sink.
type QoSConfig struct {
	TargetHz        int32  `toml:"target_hz"`
	DelayMax        string `toml:"delay_max"`         // e.g. "250µs"
	DelaySlopeShift uint   `toml:"delay_slope_shift"` // idle-decay exponent
	DevicePath      string `toml:"device_path"`       // empty = platform default
}

// MonitorConfig controls the GPU busy-percent sampler.
type MonitorConfig struct {
	Enabled      bool   `toml:"enabled"`
	PollInterval string `toml:"poll_interval"`
	BusyEnter    int    `toml:"busy_enter"`
	BusyExit     int    `toml:"busy_exit"`
	BusyPath     string `toml:"busy_path"` // explicit source; empty = autodetect
}

// TelemetryConfig controls the Prometheus exposition endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// HistoryConfig controls transition-history retention.
type HistoryConfig struct {
	Retention     string `toml:"retention"`      // e.g. "168h"
	PruneInterval string `toml:"prune_interval"` // e.g. "1h"
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := wattdHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9533,
		},
		QoS: QoSConfig{
			TargetHz:        2,
			DelayMax:        "250µs",
			DelaySlopeShift: 0,
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			PollInterval: "100ms",
			BusyEnter:    90,
			BusyExit:     75,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "wattd.log"),
		},
		History: HistoryConfig{
			Retention:     "168h",
			PruneInterval: "1h",
		},
	}
}

// LoadConfig reads config from ~/.wattd/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(wattdHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.wattd/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(wattdHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// wattdHome returns the wattd data directory.
func wattdHome() string {
	if env := os.Getenv("WATTD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wattd")
}

// WattdHome is exported for use by other packages.
func WattdHome() string {
	return wattdHome()
}
