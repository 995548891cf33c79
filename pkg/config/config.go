package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"gopkg.in/yaml.v3"
)

// IronOS GATT identifiers
const (
	BulkServiceUUID      = "9eae1000-9d0d-48c5-aa55-33e27f9bc533"
	BulkLiveDataCharUUID = "9eae1001-9d0d-48c5-aa55-33e27f9bc533"
	SettingsServiceUUID  = "f6d80000-5a10-4eba-aa55-33e27f9bc533"
	SetpointCharUUID     = "f6d70000-5a10-4eba-aa55-33e27f9bc533"
)

// MaxSettleDelay bounds the post-connect settling delay
const MaxSettleDelay = 2 * time.Second

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	TelemetryService        string `yaml:"telemetry_service" default:"9eae1000-9d0d-48c5-aa55-33e27f9bc533"`
	TelemetryCharacteristic string `yaml:"telemetry_characteristic" default:"9eae1001-9d0d-48c5-aa55-33e27f9bc533"`
	SettingsService         string `yaml:"settings_service" default:"f6d80000-5a10-4eba-aa55-33e27f9bc533"`
	SettingsCharacteristic  string `yaml:"settings_characteristic" default:"f6d70000-5a10-4eba-aa55-33e27f9bc533"`

	PollInterval           time.Duration `yaml:"poll_interval" default:"200ms"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" default:"3"`
	SettleDelay            time.Duration `yaml:"settle_delay" default:"500ms"`

	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"5s"`

	// Setpoint policy used by relative adjustments; the codec only enforces the wire width
	SetpointStep int `yaml:"setpoint_step" default:"10"`
	SetpointMin  int `yaml:"setpoint_min" default:"10"`
	SetpointMax  int `yaml:"setpoint_max" default:"450"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks identifiers, timings and setpoint policy
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := device.ValidateUUID(c.TelemetryService, c.TelemetryCharacteristic, c.SettingsService, c.SettingsCharacteristic); err != nil {
		return fmt.Errorf("characteristic identifiers: %w", err)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.PollInterval)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be >= 1, got %d", c.MaxConsecutiveFailures)
	}
	if c.SettleDelay < 0 || c.SettleDelay > MaxSettleDelay {
		return fmt.Errorf("settle_delay must be within 0..%v, got %v", MaxSettleDelay, c.SettleDelay)
	}
	if c.ScanTimeout <= 0 || c.ConnectTimeout <= 0 || c.OperationTimeout <= 0 {
		return fmt.Errorf("scan_timeout, connect_timeout and operation_timeout must be > 0")
	}
	if c.SetpointStep <= 0 {
		return fmt.Errorf("setpoint_step must be > 0, got %d", c.SetpointStep)
	}
	if c.SetpointMin < 0 || c.SetpointMin > c.SetpointMax {
		return fmt.Errorf("setpoint range %d..%d is empty", c.SetpointMin, c.SetpointMax)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
