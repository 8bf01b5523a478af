package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Channel.Backend)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 50, cfg.Scheduler.DefaultMaxTurns)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.Deadlines.Turn)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: console
channel:
  backend: redis
  max_len: 256
store:
  backend: database
  database:
    driver: postgres
    dsn: "host=db port=5432 user=parley dbname=parley"
redis:
  addr: redis:6379
scheduler:
  default_max_turns: 12
  deadlines:
    turn: 30s
    bid: 2s
  bidding:
    tie_break: least_recent
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Channel.Backend)
	assert.Equal(t, 256, cfg.Channel.MaxLen)
	assert.Equal(t, "postgres", cfg.Store.Database.Driver)
	assert.Equal(t, 12, cfg.Scheduler.DefaultMaxTurns)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Deadlines.Turn)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Deadlines.Bid)
	assert.Equal(t, "least_recent", cfg.Scheduler.Bidding.TieBreak)

	// untouched sections keep their defaults
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	t.Setenv("PARLEY_LOG_LEVEL", "error")
	t.Setenv("PARLEY_SERVER_METRICS_PORT", "9999")
	t.Setenv("PARLEY_TELEMETRY_ENABLED", "true")
	t.Setenv("PARLEY_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("PARLEY_LOG_OUTPUT_PATHS", "stdout, /var/log/parley.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 9999, cfg.Server.MetricsPort)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"stdout", "/var/log/parley.log"}, cfg.Log.OutputPaths)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/parley.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults pass", func(*Config) {}, true},
		{"unknown channel backend", func(c *Config) { c.Channel.Backend = "kafka" }, false},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "etcd" }, false},
		{"redis backend without addr", func(c *Config) {
			c.Store.Backend = "redis"
			c.Redis.Addr = ""
		}, false},
		{"bad metrics port", func(c *Config) { c.Server.MetricsPort = 700000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

func TestLogBuild(t *testing.T) {
	logger, err := LogConfig{Level: "debug", Format: "console"}.Build()
	require.NoError(t, err)
	logger.Debug("configured")

	_, err = LogConfig{Level: "noisy"}.Build()
	assert.Error(t, err)
}
