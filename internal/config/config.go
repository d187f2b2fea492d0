// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Outreach OutreachConfig `mapstructure:"outreach"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Sender   SenderConfig   `mapstructure:"sender"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for the delivery and DM hand-off topics.
type PubSubConfig struct {
	Provider    string `mapstructure:"provider"`
	ProjectID   string `mapstructure:"project_id"`
	TopicName   string `mapstructure:"topic_name"`
	DMTopicName string `mapstructure:"dm_topic_name"`
}

// StorageConfig sets paths and content types for blob persistence.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// OutreachConfig governs batch dispatcher and task engine behavior.
type OutreachConfig struct {
	ParallelTasksDefault int     `mapstructure:"parallel_tasks_default"`
	RetryAttemptsDefault int     `mapstructure:"retry_attempts_default"`
	OpRetryAttempts      int     `mapstructure:"op_retry_attempts"`
	ErrorThreshold       float64 `mapstructure:"error_threshold"`
	GenerationModel      string  `mapstructure:"generation_model"`
	GenerationEndpoint   string  `mapstructure:"generation_endpoint"`
	GenerationAPIKey     string  `mapstructure:"generation_api_key"`
	CustomPrompt         string  `mapstructure:"custom_prompt"`
}

// CrawlerConfig governs the crawl queue processor.
type CrawlerConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	CycleSchedule  string `mapstructure:"cycle_schedule"`
}

// AlertingConfig configures the error-rate notification channel.
type AlertingConfig struct {
	WebhookURL         string  `mapstructure:"webhook_url"`
	Channel            string  `mapstructure:"channel"`
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold"`
	TargetCycleMs      int     `mapstructure:"target_cycle_ms"`
}

// SenderConfig describes the outreach sender identity used in prompts.
type SenderConfig struct {
	Name    string `mapstructure:"name"`
	Company string `mapstructure:"company"`
	Email   string `mapstructure:"email"`
	Product string `mapstructure:"product"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OUTREACHD")
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
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("pubsub.topic_name", "outreach-deliveries")
	v.SetDefault("pubsub.dm_topic_name", "outreach-dm")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("outreach.parallel_tasks_default", 5)
	v.SetDefault("outreach.retry_attempts_default", 3)
	v.SetDefault("outreach.op_retry_attempts", 3)
	v.SetDefault("outreach.error_threshold", 0.5)
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.user_agent", "outreachd-bot/0.1")
	v.SetDefault("crawler.cycle_schedule", "@every 5m")
	v.SetDefault("alerting.channel", "#alerts")
	v.SetDefault("alerting.error_rate_threshold", 0.2)
	v.SetDefault("alerting.target_cycle_ms", 60000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Outreach.ParallelTasksDefault <= 0 {
		return fmt.Errorf("outreach.parallel_tasks_default must be > 0")
	}
	if c.Outreach.OpRetryAttempts <= 0 {
		return fmt.Errorf("outreach.op_retry_attempts must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Alerting.ErrorRateThreshold < 0 || c.Alerting.ErrorRateThreshold > 1 {
		return fmt.Errorf("alerting.error_rate_threshold must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	return nil
}

// FetchTimeout converts the crawler timeout config to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// TargetCycleDuration converts the batch-size advisor target to a duration.
func (c Config) TargetCycleDuration() time.Duration {
	return time.Duration(c.Alerting.TargetCycleMs) * time.Millisecond
}
