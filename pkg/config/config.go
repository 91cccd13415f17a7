package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/permission"
	"gopkg.in/yaml.v3"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	Backend      string `yaml:"backend" default:"goble"`
	OutputFormat string `yaml:"output_format" default:"table"` // table, json

	ScanTimeout        time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"30s"`
	DisconnectTimeout  time.Duration `yaml:"disconnect_timeout" default:"10s"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout" default:"10s"`

	ScanBuffer         int    `yaml:"scan_buffer" default:"100"`
	NotificationBuffer uint32 `yaml:"notification_buffer" default:"256"`

	Permissions PermissionConfig `yaml:"permissions"`
}

// PermissionConfig overrides how the permission gate is built.
// Setting PlatformVersion or Granted replaces the host permission system with a static one.
type PermissionConfig struct {
	PlatformVersion *int             `yaml:"platform_version"`
	Granted         []string         `yaml:"granted"`
	Table           permission.Table `yaml:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "blecentral", "config.yaml")
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend)
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}

	for name, d := range map[string]time.Duration{
		"scan_timeout":        c.ScanTimeout,
		"connect_timeout":     c.ConnectTimeout,
		"disconnect_timeout":  c.DisconnectTimeout,
		"transaction_timeout": c.TransactionTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	if c.ScanBuffer <= 0 {
		return fmt.Errorf("scan_buffer must be > 0")
	}
	if c.NotificationBuffer == 0 {
		return fmt.Errorf("notification_buffer must be > 0")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ClientOptions maps the config onto client options
func (c *Config) ClientOptions() central.Options {
	return central.Options{
		ConnectTimeout:     c.ConnectTimeout,
		DisconnectTimeout:  c.DisconnectTimeout,
		TransactionTimeout: c.TransactionTimeout,
		ScanBuffer:         c.ScanBuffer,
		NotificationBuffer: c.NotificationBuffer,
	}
}

// NewGate builds the permission gate for the configured platform
func (c *Config) NewGate(logger *logrus.Logger) *permission.Gate {
	table := permission.HostTable
	if len(c.Permissions.Table) > 0 {
		table = c.Permissions.Table
	}

	var platform permission.Platform
	if c.Permissions.PlatformVersion != nil || len(c.Permissions.Granted) > 0 {
		version := 0
		if c.Permissions.PlatformVersion != nil {
			version = *c.Permissions.PlatformVersion
		}
		platform = permission.NewStaticPlatform(version, c.Permissions.Granted...)
	} else {
		platform = permission.NewHostPlatform(logger)
	}

	return permission.NewGate(platform, table, logger)
}
