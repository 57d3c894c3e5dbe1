// Package config loads podlink configuration from YAML with struct-tag
// defaults, so an absent or sparse file still yields a fully usable
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/protocol"
	"github.com/srg/podlink/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// ListenAddr is where the bridge server binds.
	ListenAddr string `yaml:"listen_addr" default:"127.0.0.1:9035"`

	ScanDuration    time.Duration `yaml:"scan_duration" default:"15s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
	ConnectSettle   time.Duration `yaml:"connect_settle" default:"1s"`
	CancelSkipDelay time.Duration `yaml:"cancel_skip_delay" default:"600ms"`
	SettleDelay     time.Duration `yaml:"settle_delay" default:"50ms"`

	WatchdogHardTimeout  time.Duration `yaml:"watchdog_hard_timeout" default:"60s"`
	WatchdogStallTimeout time.Duration `yaml:"watchdog_stall_timeout" default:"2500ms"`
}

// DefaultConfig returns the configuration with every field at its
// struct-tag default.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file. Fields absent from the file keep
// their defaults. A missing file is not an error; it yields the default
// configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger creates a logger configured per the LogLevel field. An
// unparseable level falls back to info.
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

// SessionOptions maps the configuration onto session timing options.
func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		ScanDuration:    c.ScanDuration,
		ConnectTimeout:  c.ConnectTimeout,
		ConnectSettle:   c.ConnectSettle,
		CancelSkipDelay: c.CancelSkipDelay,
		SettleDelay:     c.SettleDelay,
		Watchdog: &protocol.WatchdogOptions{
			HardTimeout:  c.WatchdogHardTimeout,
			StallTimeout: c.WatchdogStallTimeout,
		},
	}
}
