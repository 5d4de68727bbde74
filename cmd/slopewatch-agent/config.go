// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration, loaded from a single YAML file.
//
// The config file is the single source of truth. Environment variables do
// not override config values; the only expansion performed is ${VAR} and
// ${VAR:-default} in path fields, for portability across machines.
type Config struct {
	// DeviceID identifies this sensor installation in every delivered
	// record. Required.
	DeviceID string `yaml:"device_id"`

	// LogLevel sets the slog level: debug, info, warn, or error.
	// Default: info. The -log-level flag overrides it.
	LogLevel string `yaml:"log_level"`

	// DataDir is where daily log files are written.
	// Default: /var/lib/slopewatch
	DataDir string `yaml:"data_dir"`

	// SamplePeriodMS is the poll period P in milliseconds.
	// Default: 2000. Must be > 0.
	SamplePeriodMS int `yaml:"sample_period_ms"`

	// GapFactor scales the poll period for the delivery gap check: a
	// successful reading more than GapFactor×P after the previous
	// success triggers a backfill episode. Default: 1.5. Must be ≥ 1.
	GapFactor float64 `yaml:"gap_factor"`

	// WirelessInterface names the interface whose signal level is
	// reported as rssi. Empty means the first interface listed in
	// /proc/net/wireless.
	WirelessInterface string `yaml:"wireless_interface"`

	// StatusAddr is the listen address for the /status and /metrics
	// HTTP endpoints. Empty disables the listener.
	StatusAddr string `yaml:"status_addr"`

	// Serial configures the sensor link.
	Serial SerialConfig `yaml:"serial"`

	// Primary configures the HTTP delivery sink.
	Primary PrimaryConfig `yaml:"primary"`

	// Secondary configures the optional TCP mirror sink.
	Secondary SecondaryConfig `yaml:"secondary"`

	// Retention configures daily log archival and expiry.
	Retention RetentionConfig `yaml:"retention"`
}

// SerialConfig configures the sensor's serial link. The line parameters
// are fixed at 115200 8N1; only the port and Modbus addressing vary per
// installation.
type SerialConfig struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0. Required.
	Port string `yaml:"port"`

	// SlaveAddress is the sensor's Modbus address. Default: 1.
	// Valid range 1–247.
	SlaveAddress int `yaml:"slave_address"`

	// Register is the first holding register of the angle block.
	// Default: 0.
	Register int `yaml:"register"`
}

// PrimaryConfig configures the primary HTTP sink.
type PrimaryConfig struct {
	// URL receives one POST per record. Required.
	URL string `yaml:"url"`

	// TimeoutMS bounds each delivery attempt. Default: 10000.
	TimeoutMS int `yaml:"timeout_ms"`
}

// SecondaryConfig configures the optional TCP mirror.
type SecondaryConfig struct {
	// Enabled turns the mirror on. Host and Port are required when set.
	Enabled bool `yaml:"enabled"`

	// Host is the mirror endpoint hostname or address.
	Host string `yaml:"host"`

	// Port is the mirror endpoint TCP port.
	Port int `yaml:"port"`

	// TimeoutMS bounds the connect-write-close cycle. Default: 10000.
	TimeoutMS int `yaml:"timeout_ms"`
}

// RetentionConfig configures the daily log sweep. Zero values disable
// the corresponding action.
type RetentionConfig struct {
	// CompressAfterDays compresses day files older than this many days
	// to .json.zst archives.
	CompressAfterDays int `yaml:"compress_after_days"`

	// RetainDays deletes day files and archives older than this many
	// days.
	RetainDays int `yaml:"retain_days"`
}

// Default returns the configuration baseline that the config file is
// merged over.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		DataDir:        "/var/lib/slopewatch",
		SamplePeriodMS: 2000,
		GapFactor:      1.5,
		Serial: SerialConfig{
			SlaveAddress: 1,
			Register:     0,
		},
		Primary: PrimaryConfig{
			TimeoutMS: 10000,
		},
		Secondary: SecondaryConfig{
			TimeoutMS: 10000,
		},
	}
}

// LoadConfig loads configuration from a specific file path, merging it
// over the defaults and validating the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.DataDir = expandVars(c.DataDir, vars)
	c.Serial.Port = expandVars(c.Serial.Port, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting every problem
// rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.DeviceID == "" {
		errs = append(errs, fmt.Errorf("device_id is required"))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	if c.SamplePeriodMS <= 0 {
		errs = append(errs, fmt.Errorf("sample_period_ms must be positive, got %d", c.SamplePeriodMS))
	}
	if c.GapFactor < 1 {
		errs = append(errs, fmt.Errorf("gap_factor must be at least 1, got %g", c.GapFactor))
	}

	if c.Serial.Port == "" {
		errs = append(errs, fmt.Errorf("serial.port is required"))
	}
	if c.Serial.SlaveAddress < 1 || c.Serial.SlaveAddress > 247 {
		errs = append(errs, fmt.Errorf("serial.slave_address must be in 1..247, got %d", c.Serial.SlaveAddress))
	}
	if c.Serial.Register < 0 || c.Serial.Register > 0xFFFF {
		errs = append(errs, fmt.Errorf("serial.register must be in 0..65535, got %d", c.Serial.Register))
	}

	if c.Primary.URL == "" {
		errs = append(errs, fmt.Errorf("primary.url is required"))
	}
	if c.Primary.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("primary.timeout_ms must be positive, got %d", c.Primary.TimeoutMS))
	}

	if c.Secondary.Enabled {
		if c.Secondary.Host == "" {
			errs = append(errs, fmt.Errorf("secondary.host is required when secondary.enabled is set"))
		}
		if c.Secondary.Port < 1 || c.Secondary.Port > 65535 {
			errs = append(errs, fmt.Errorf("secondary.port must be in 1..65535, got %d", c.Secondary.Port))
		}
		if c.Secondary.TimeoutMS <= 0 {
			errs = append(errs, fmt.Errorf("secondary.timeout_ms must be positive, got %d", c.Secondary.TimeoutMS))
		}
	}

	if c.Retention.CompressAfterDays < 0 {
		errs = append(errs, fmt.Errorf("retention.compress_after_days must not be negative, got %d", c.Retention.CompressAfterDays))
	}
	if c.Retention.RetainDays < 0 {
		errs = append(errs, fmt.Errorf("retention.retain_days must not be negative, got %d", c.Retention.RetainDays))
	}
	if c.Retention.CompressAfterDays > 0 && c.Retention.RetainDays > 0 &&
		c.Retention.RetainDays < c.Retention.CompressAfterDays {
		errs = append(errs, fmt.Errorf("retention.retain_days (%d) must not be smaller than retention.compress_after_days (%d)",
			c.Retention.RetainDays, c.Retention.CompressAfterDays))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SamplePeriod returns the poll period as a duration.
func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriodMS) * time.Millisecond
}

// GapThreshold returns the delivery gap beyond which a backfill episode
// runs.
func (c *Config) GapThreshold() time.Duration {
	return time.Duration(c.GapFactor * float64(c.SamplePeriod()))
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", s)
	}
}
