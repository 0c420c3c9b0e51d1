// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status/dashboard HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig selects the history store backend. URL accepts sqlite:// paths or
// postgres:// DSNs.
type DBConfig struct {
	URL string `mapstructure:"url"`
}

// TelegramConfig points at the HTTP gateway used to read chat history.
type TelegramConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
}

// RateLimitConfig governs outbound request pacing and backoff handling.
type RateLimitConfig struct {
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
	DelayBetweenChats  float64 `mapstructure:"delay_between_chats"`
	MaxBackoffSeconds  int     `mapstructure:"max_backoff_seconds"`
	BackoffMultiplier  float64 `mapstructure:"backoff_multiplier"`
	MaxRequestAttempts int     `mapstructure:"max_request_attempts"`
}

// MonitorConfig configures the terminal status poller.
type MonitorConfig struct {
	ServerURL       string  `mapstructure:"server_url"`
	IntervalSeconds float64 `mapstructure:"interval_seconds"`
}

// WatchConfig configures the change-monitoring loop.
type WatchConfig struct {
	IntervalSeconds float64 `mapstructure:"interval_seconds"`
}

// ExportConfig sets where exports are written.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TGPARS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5001)
	v.SetDefault("db.url", "sqlite://parsed_data/telegram_history.db")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout_seconds", 30)
	v.SetDefault("telegram.page_size", 100)
	v.SetDefault("ratelimit.requests_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("ratelimit.delay_between_chats", 2.0)
	v.SetDefault("ratelimit.max_backoff_seconds", 300)
	v.SetDefault("ratelimit.backoff_multiplier", 1.5)
	v.SetDefault("ratelimit.max_request_attempts", 3)
	v.SetDefault("monitor.server_url", "http://localhost:5001")
	v.SetDefault("monitor.interval_seconds", 2.0)
	v.SetDefault("watch.interval_seconds", 300.0)
	v.SetDefault("export.dir", "parsed_data/exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.URL == "" {
		return fmt.Errorf("db.url must be set")
	}
	if c.Telegram.BaseURL == "" {
		return fmt.Errorf("telegram.base_url must be set")
	}
	if c.Telegram.TimeoutSeconds <= 0 {
		return fmt.Errorf("telegram.timeout_seconds must be > 0")
	}
	if c.RateLimit.MaxRequestAttempts <= 0 {
		return fmt.Errorf("ratelimit.max_request_attempts must be > 0")
	}
	if c.RateLimit.BackoffMultiplier < 1 {
		return fmt.Errorf("ratelimit.backoff_multiplier must be >= 1")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if c.Watch.IntervalSeconds <= 0 {
		return fmt.Errorf("watch.interval_seconds must be > 0")
	}
	return nil
}

// MonitorInterval converts the poller refresh setting into a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds * float64(time.Second))
}

// WatchInterval converts the between-scans pause into a duration.
func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds * float64(time.Second))
}

// ChatDelay converts the between-chats pause into a duration.
func (c Config) ChatDelay() time.Duration {
	return time.Duration(c.RateLimit.DelayBetweenChats * float64(time.Second))
}

// MaxBackoff converts the backoff cap into a duration.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.RateLimit.MaxBackoffSeconds) * time.Second
}
