// Package config loads and validates dispatcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DispatcherConfig governs the resource governor and dispatch loop. The
// governor ceilings carry no built-in defaults; operators must supply them.
type DispatcherConfig struct {
	MaxCPUPercent     float64 `mapstructure:"max_cpu_percent"`
	MaxMemoryMB       float64 `mapstructure:"max_memory_mb"`
	MaxConcurrentJobs int     `mapstructure:"max_concurrent_jobs"`
	MinDelayMs        int     `mapstructure:"min_delay_ms"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequeueDelaySec   int     `mapstructure:"requeue_delay_seconds"`
	DrainTimeoutSec   int     `mapstructure:"drain_timeout_seconds"`
	StaleClaimSec     int     `mapstructure:"stale_claim_seconds"`
	ReportIntervalSec int     `mapstructure:"report_interval_seconds"`
}

// FetcherConfig configures the default HTTP fetcher.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	IgnoreRobots   bool   `mapstructure:"ignore_robots"`
}

// QueueConfig controls access to the durable job queue store.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the blob store for raw fetched bodies.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHD")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetcher.user_agent", "fetchd-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.ignore_robots", false)
	v.SetDefault("queue.provider", "postgres")
	v.SetDefault("queue.max_conns", 8)
	v.SetDefault("queue.min_conns", 1)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("dispatcher.stale_claim_seconds", 600)
	v.SetDefault("dispatcher.report_interval_seconds", 30)
	v.SetDefault("logging.development", true)
	// Governor ceilings and pacing intentionally have no defaults; an
	// unreadable or absent ceiling must never silently become "safe".
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	d := c.Dispatcher
	if d.MaxCPUPercent <= 0 || d.MaxCPUPercent > 100 {
		return fmt.Errorf("dispatcher.max_cpu_percent must be in (0, 100]")
	}
	if d.MaxMemoryMB <= 0 {
		return fmt.Errorf("dispatcher.max_memory_mb must be > 0")
	}
	if d.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("dispatcher.max_concurrent_jobs must be > 0")
	}
	if d.MinDelayMs <= 0 || d.MaxDelayMs < d.MinDelayMs {
		return fmt.Errorf("dispatcher.min_delay_ms must be > 0 and <= max_delay_ms")
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("dispatcher.max_retries must be >= 0")
	}
	if d.RequeueDelaySec <= 0 {
		return fmt.Errorf("dispatcher.requeue_delay_seconds must be > 0")
	}
	if d.DrainTimeoutSec <= 0 {
		return fmt.Errorf("dispatcher.drain_timeout_seconds must be > 0")
	}
	if c.Queue.Provider == "postgres" && c.Queue.DSN == "" {
		return fmt.Errorf("queue.dsn must be set when queue.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// MinDelay converts the pacing floor to a duration.
func (c DispatcherConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay converts the pacing ceiling to a duration.
func (c DispatcherConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// RequeueDelay converts the retry deferral to a duration.
func (c DispatcherConfig) RequeueDelay() time.Duration {
	return time.Duration(c.RequeueDelaySec) * time.Second
}

// DrainTimeout converts the shutdown bound to a duration.
func (c DispatcherConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSec) * time.Second
}

// StaleClaim converts the abandoned-claim window to a duration.
func (c DispatcherConfig) StaleClaim() time.Duration {
	return time.Duration(c.StaleClaimSec) * time.Second
}

// ReportInterval converts the stats reporter cadence to a duration.
func (c DispatcherConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalSec) * time.Second
}
