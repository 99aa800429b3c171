// Package config loads and validates the bridge configuration from a JSON
// or YAML file, with environment variable overrides for deployment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/editorbridge/errors"
)

// Defaults for every tunable. A zero value in the file means "use the
// default", so a partial config file is always valid.
const (
	DefaultPort            = 8787
	DefaultPath            = "/bridge"
	DefaultLogCapacity     = 1000
	DefaultQueryCount      = 100
	DefaultBufferTimeout   = 120 * time.Second
	DefaultLivenessTimeout = 60 * time.Second
	DefaultProbeInterval   = 15 * time.Second
	DefaultSweepInterval   = 5 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig configures the listening HTTP server that carries the
// websocket endpoint, health, and metrics.
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// BridgeConfig configures the engine's buffers and timers. Durations are
// plain seconds; no dynamic reconfiguration happens at runtime.
type BridgeConfig struct {
	LogCapacity        int `json:"log_capacity" yaml:"log_capacity"`
	BufferTimeoutSec   int `json:"buffer_timeout_seconds" yaml:"buffer_timeout_seconds"`
	LivenessTimeoutSec int `json:"liveness_timeout_seconds" yaml:"liveness_timeout_seconds"`
	ProbeIntervalSec   int `json:"probe_interval_seconds" yaml:"probe_interval_seconds"`
	SweepIntervalSec   int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	RequestTimeoutSec  int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a configuration populated with all defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Path: DefaultPath,
		},
		Bridge: BridgeConfig{
			LogCapacity:        DefaultLogCapacity,
			BufferTimeoutSec:   int(DefaultBufferTimeout.Seconds()),
			LivenessTimeoutSec: int(DefaultLivenessTimeout.Seconds()),
			ProbeIntervalSec:   int(DefaultProbeInterval.Seconds()),
			SweepIntervalSec:   int(DefaultSweepInterval.Seconds()),
			RequestTimeoutSec:  int(DefaultRequestTimeout.Seconds()),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a configuration file (JSON or YAML by extension), fills in
// defaults for absent fields, applies environment overrides, and validates
// the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "parse YAML config")
		}
	default:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "parse JSON config")
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Path == "" {
		c.Server.Path = def.Server.Path
	}
	if c.Bridge.LogCapacity == 0 {
		c.Bridge.LogCapacity = def.Bridge.LogCapacity
	}
	if c.Bridge.BufferTimeoutSec == 0 {
		c.Bridge.BufferTimeoutSec = def.Bridge.BufferTimeoutSec
	}
	if c.Bridge.LivenessTimeoutSec == 0 {
		c.Bridge.LivenessTimeoutSec = def.Bridge.LivenessTimeoutSec
	}
	if c.Bridge.ProbeIntervalSec == 0 {
		c.Bridge.ProbeIntervalSec = def.Bridge.ProbeIntervalSec
	}
	if c.Bridge.SweepIntervalSec == 0 {
		c.Bridge.SweepIntervalSec = def.Bridge.SweepIntervalSec
	}
	if c.Bridge.RequestTimeoutSec == 0 {
		c.Bridge.RequestTimeoutSec = def.Bridge.RequestTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// applyEnv applies environment variable overrides. Only deployment-level
// settings are overridable; tunables stay in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("EDITORBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EDITORBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Duration accessors

// BufferTimeout returns how long a command may wait for the peer.
func (c *BridgeConfig) BufferTimeout() time.Duration {
	return time.Duration(c.BufferTimeoutSec) * time.Second
}

// LivenessTimeout returns how stale the last liveness reply may be before
// the session stops counting as usable.
func (c *BridgeConfig) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSec) * time.Second
}

// ProbeInterval returns the liveness probe send interval.
func (c *BridgeConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// SweepInterval returns the admission queue sweep interval.
func (c *BridgeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// RequestTimeout returns the default per-request deadline.
func (c *BridgeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Validate checks the configuration against the embedded schema and
// semantic constraints.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Bridge.ProbeIntervalSec >= c.Bridge.LivenessTimeoutSec {
		return errors.WrapFatal(
			fmt.Errorf("probe interval (%ds) must be shorter than liveness timeout (%ds)",
				c.Bridge.ProbeIntervalSec, c.Bridge.LivenessTimeoutSec),
			"config", "Validate", "check timing constraints")
	}
	return nil
}
