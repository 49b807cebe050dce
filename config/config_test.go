package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() Config {
	var c Config
	c.Log.Level = "info"
	c.Storage.Backend = "sqlite"
	c.Storage.SQLitePath = "./data/sentinel.db"
	c.Engine.WorkerCount = 4
	c.Engine.CorrelationWindow = 300 * time.Second
	return c
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	config, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "sqlite", config.Storage.Backend)
	assert.Equal(t, "./data/sentinel.db", config.Storage.SQLitePath)
	assert.False(t, config.Redis.Enabled)
	assert.Equal(t, time.Hour, config.Redis.TTL)

	assert.Equal(t, 4, config.Engine.WorkerCount)
	assert.Equal(t, 1000, config.Engine.QueueSize)
	assert.Equal(t, 60*time.Second, config.Engine.DedupWindow)
	assert.Equal(t, 300*time.Second, config.Engine.CorrelationWindow)

	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, ":9100", config.Metrics.Addr)

	assert.Equal(t, 5*time.Minute, config.Indicators.RefreshInterval)
	assert.Equal(t, float64(5), config.Notify.RatePerSecond)
	assert.Equal(t, 30*time.Second, config.Actions.Timeout)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("SENTINEL_STORAGE_BACKEND", "memory")
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")
	t.Setenv("SENTINEL_ENGINE_WORKER_COUNT", "8")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", config.Storage.Backend)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, 8, config.Engine.WorkerCount)
}

func TestLoadConfigRejectsInvalidEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("SENTINEL_STORAGE_BACKEND", "cassandra")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"memory backend needs no path", func(c *Config) {
			c.Storage.Backend = "memory"
			c.Storage.SQLitePath = ""
		}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, true},
		{"zero workers", func(c *Config) { c.Engine.WorkerCount = 0 }, true},
		{"non-positive correlation window", func(c *Config) { c.Engine.CorrelationWindow = 0 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte("log: [broken\n"), 0o600))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read config file")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", config.Log.Level)
}
