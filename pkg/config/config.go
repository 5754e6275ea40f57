// Package config loads bfree settings from defaults and an optional YAML file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// CharacteristicConfig names an extra characteristic to keep subscribed
type CharacteristicConfig struct {
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
}

// RoleConfig overrides a role's pairing
type RoleConfig struct {
	// Services replaces the role's discovery filter
	Services []string `yaml:"services"`

	// Characteristics are subscribed in addition to the role's own
	Characteristics []CharacteristicConfig `yaml:"characteristics"`

	// Any accepts the first device found regardless of its services
	Any bool `yaml:"any"`

	// ConnectPayload is hex written to the trainer control point after every
	// connect. Only TrainerRole accepts it.
	ConnectPayload string `yaml:"connect_payload"`
}

// TrainerRole is the role whose device has the FE-C control point
const TrainerRole = "smart_trainer"

// Payload decodes ConnectPayload
func (r RoleConfig) Payload() ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(r.ConnectPayload, " ", ""))
}

// Config holds application configuration
type Config struct {
	LogLevel    string        `yaml:"log_level" default:"info"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"30s"`
	BaseDelay   time.Duration `yaml:"base_delay" default:"2s"`
	MaxAttempts uint          `yaml:"max_attempts" default:"3"`

	// MaxRate limits printed measurements per role, per second
	MaxRate float64 `yaml:"max_rate" default:"4"`

	Roles map[string]RoleConfig `yaml:"roles"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %s", c.BaseDelay)
	}
	if c.MaxRate <= 0 {
		return fmt.Errorf("max_rate must be positive, got %g", c.MaxRate)
	}
	for name, role := range c.Roles {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("role name must not be empty")
		}
		if len(role.Services) > 0 {
			if _, err := device.ValidateUUID(role.Services...); err != nil {
				return fmt.Errorf("role %s: services: %w", name, err)
			}
		}
		for _, ch := range role.Characteristics {
			if ch.Service == "" || ch.Characteristic == "" {
				return fmt.Errorf("role %s: characteristic needs both service and characteristic", name)
			}
			if _, err := device.ValidateUUID(ch.Service, ch.Characteristic); err != nil {
				return fmt.Errorf("role %s: characteristics: %w", name, err)
			}
		}
		if role.ConnectPayload != "" && name != TrainerRole {
			return fmt.Errorf("role %s: connect_payload is only supported on %s", name, TrainerRole)
		}
		if _, err := role.Payload(); err != nil {
			return fmt.Errorf("role %s: connect_payload: %w", name, err)
		}
	}
	return nil
}

// RoleNames lists the configured roles sorted by name
func (c *Config) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
