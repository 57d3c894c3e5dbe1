package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9035", cfg.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.ScanDuration)
	assert.Equal(t, time.Second, cfg.ConnectSettle)
	assert.Equal(t, 600*time.Millisecond, cfg.CancelSkipDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 60*time.Second, cfg.WatchdogHardTimeout)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nscan_duration: 5s\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ScanDuration)
	// Untouched fields keep their defaults
	assert.Equal(t, time.Second, cfg.ConnectSettle)
	assert.Equal(t, "127.0.0.1:9035", cfg.ListenAddr)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unterminated"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	assert.Equal(t, logrus.DebugLevel, cfg.NewLogger().GetLevel())

	cfg.LogLevel = "not-a-level"
	assert.Equal(t, logrus.InfoLevel, cfg.NewLogger().GetLevel())
}

func TestSessionOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := cfg.SessionOptions()

	assert.Equal(t, cfg.ScanDuration, opts.ScanDuration)
	assert.Equal(t, cfg.CancelSkipDelay, opts.CancelSkipDelay)
	assert.Equal(t, cfg.WatchdogHardTimeout, opts.Watchdog.HardTimeout)
}
