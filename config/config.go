// Package config loads service configuration from config.yaml, environment
// variables and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sentinel service
type Config struct {
	Log struct {
		Level string `mapstructure:"level"` // debug, info, warn, error
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Storage struct {
		// Backend is "memory" or "sqlite"
		Backend    string `mapstructure:"backend"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	Engine struct {
		WorkerCount       int           `mapstructure:"worker_count"`
		QueueSize         int           `mapstructure:"queue_size"`
		BusBufferSize     int           `mapstructure:"bus_buffer_size"`
		DedupWindow       time.Duration `mapstructure:"dedup_window"`
		DedupCacheSize    int           `mapstructure:"dedup_cache_size"`
		CorrelationWindow time.Duration `mapstructure:"correlation_window"`
		SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"engine"`

	Rules struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"rules"`

	Playbooks struct {
		File string `mapstructure:"file"`
	} `mapstructure:"playbooks"`

	Indicators struct {
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
		ExpirySweep     time.Duration `mapstructure:"expiry_sweep"`
	} `mapstructure:"indicators"`

	Notify struct {
		SMTPHost      string            `mapstructure:"smtp_host"`
		SMTPPort      int               `mapstructure:"smtp_port"`
		SMTPUser      string            `mapstructure:"smtp_user"`
		SMTPPass      string            `mapstructure:"smtp_pass"`
		FromAddress   string            `mapstructure:"from_address"`
		WebhookURL    string            `mapstructure:"webhook_url"`
		SlackURL      string            `mapstructure:"slack_url"`
		SMSGateway    string            `mapstructure:"sms_gateway"`
		Headers       map[string]string `mapstructure:"headers"`
		RatePerSecond float64           `mapstructure:"rate_per_second"`
		HTTPTimeout   time.Duration     `mapstructure:"http_timeout"`
	} `mapstructure:"notify"`

	Actions struct {
		RunnerEndpoint string        `mapstructure:"runner_endpoint"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"actions"`
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9100")

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlite_path", "./data/sentinel.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", time.Hour)

	viper.SetDefault("engine.worker_count", 4)
	viper.SetDefault("engine.queue_size", 1000)
	viper.SetDefault("engine.bus_buffer_size", 256)
	viper.SetDefault("engine.dedup_window", 60*time.Second)
	viper.SetDefault("engine.dedup_cache_size", 10000)
	viper.SetDefault("engine.correlation_window", 300*time.Second)
	viper.SetDefault("engine.sweep_interval", time.Minute)

	viper.SetDefault("rules.dir", "./config/rules")
	viper.SetDefault("playbooks.file", "")

	viper.SetDefault("indicators.refresh_interval", 5*time.Minute)
	viper.SetDefault("indicators.expiry_sweep", time.Hour)

	viper.SetDefault("notify.smtp_port", 587)
	viper.SetDefault("notify.rate_per_second", 5)
	viper.SetDefault("notify.http_timeout", 10*time.Second)

	viper.SetDefault("actions.timeout", 30*time.Second)
}

// LoadConfig reads config.yaml (working dir or ./config), applies
// SENTINEL_* environment overrides and falls back to defaults.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file means defaults and env vars apply; anything else
		// (malformed YAML, unreadable file) must surface.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the engine cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
	}
	if c.Engine.WorkerCount < 1 {
		return fmt.Errorf("engine.worker_count must be at least 1")
	}
	if c.Engine.CorrelationWindow <= 0 {
		return fmt.Errorf("engine.correlation_window must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
