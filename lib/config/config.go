// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for MachineRancher.
type Config struct {
	// MQTT configures the discovery/telemetry bus connection.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Server configures the session listen server.
	Server ServerConfig `yaml:"server"`

	// Printer configures the printer capability implementation.
	Printer PrinterConfig `yaml:"printer"`
}

// MQTTConfig configures the bus connection.
type MQTTConfig struct {
	// Address is the broker host or IP. Required.
	Address string `yaml:"address"`

	// Port is the broker port. Default: 1883.
	Port int `yaml:"port"`

	// Username and Password are the broker credentials. Optional for
	// brokers with anonymous access enabled.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DiscoveryWindow is how long the engine listens for machine
	// announcements before closing discovery. Devices publishing
	// after the window are not discovered until restart.
	// Default: 1s.
	DiscoveryWindow time.Duration `yaml:"discovery_window"`
}

// ServerConfig configures the session listen server.
type ServerConfig struct {
	// Listen is the host:port the WebSocket server binds. Required.
	Listen string `yaml:"listen"`

	// MaxSessions is the maximum number of concurrent client
	// sessions. Connections beyond the limit are rejected.
	// Default: 16.
	MaxSessions int `yaml:"max_sessions"`

	// StatusInterval is the period of the per-machine status push
	// loop started when a session binds a machine. Default: 5s.
	StatusInterval time.Duration `yaml:"status_interval"`
}

// PrinterConfig configures printer capability operations.
type PrinterConfig struct {
	// RPCTimeout bounds each device request/response wait.
	// Default: 5s.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`

	// LevelingTimeout bounds the bed leveling routine, which homes
	// the axes and waits for all four corner adjustments.
	// Default: 90s.
	LevelingTimeout time.Duration `yaml:"leveling_timeout"`

	// SampleInterval is the telemetry logger sampling period.
	// Default: 2s.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// TempTolerance is the maximum allowed deviation, in degrees
	// Celsius, of a live reading from its target once the hotend and
	// bed have both reached temperature. Exceeding it pauses the
	// print and raises a failure event. Default: 7.5.
	TempTolerance float64 `yaml:"temp_tolerance"`

	// Lookback is how much telemetry history a failure event carries.
	// Default: 5m.
	Lookback time.Duration `yaml:"lookback"`

	// VisChunks is the number of downsampled rows a failure event's
	// time series is reduced to. Default: 10.
	VisChunks int `yaml:"vis_chunks"`

	// LogDir is the directory for per-print telemetry CSV logs.
	// Required.
	LogDir string `yaml:"log_dir"`
}

// Default returns the configuration defaults. Required fields are left
// empty and caught by Validate.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port:            1883,
			DiscoveryWindow: time.Second,
		},
		Server: ServerConfig{
			MaxSessions:    16,
			StatusInterval: 5 * time.Second,
		},
		Printer: PrinterConfig{
			RPCTimeout:      5 * time.Second,
			LevelingTimeout: 90 * time.Second,
			SampleInterval:  2 * time.Second,
			TempTolerance:   7.5,
			Lookback:        5 * time.Minute,
			VisChunks:       10,
		},
	}
}

// Load reads configuration from the file named by the RANCHER_CONFIG
// environment variable. Use LoadFile when the path comes from a flag.
func Load() (*Config, error) {
	path := os.Getenv("RANCHER_CONFIG")
	if path == "" {
		return nil, errors.New("RANCHER_CONFIG environment variable not set (or pass --config)")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the given path, applies defaults
// for absent optional keys, and validates required keys.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first missing or nonsensical required setting.
func (c *Config) Validate() error {
	if c.MQTT.Address == "" {
		return errors.New("mqtt.address is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive, got %d", c.Server.MaxSessions)
	}
	if c.Server.StatusInterval <= 0 {
		return errors.New("server.status_interval must be positive")
	}
	if c.Printer.LogDir == "" {
		return errors.New("printer.log_dir is required")
	}
	if c.Printer.SampleInterval <= 0 {
		return errors.New("printer.sample_interval must be positive")
	}
	if c.Printer.TempTolerance <= 0 {
		return errors.New("printer.temp_tolerance must be positive")
	}
	if c.Printer.VisChunks <= 0 {
		return errors.New("printer.vis_chunks must be positive")
	}
	return nil
}
