package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabaseDriver string   `mapstructure:"database_driver"` // "sqlite" or "postgres"
	DatabaseDSN    string   `mapstructure:"database_dsn"`
	LogLevel       string   `mapstructure:"log_level"` // DEBUG|INFO|WARNING|ERROR|CRITICAL
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	RetentionEventsDays  int `mapstructure:"retention_events_days"`  // event table prune horizon
	RetentionSamplesDays int `mapstructure:"retention_samples_days"` // sample prune horizon

	TelemetryIntervalSec int    `mapstructure:"telemetry_interval_sec"` // collector period
	TelemetryDiskPath    string `mapstructure:"telemetry_disk_path"`    // mount point probed for disk usage

	AlertEvalIntervalSec    int `mapstructure:"alert_eval_interval_sec"`
	AlertCooldownSec        int `mapstructure:"alert_cooldown_sec"`     // condition must clear this long before auto-resolution
	AlertDedupWindowSec     int `mapstructure:"alert_dedup_window_sec"` // identical triggers coalesced within this window
	AlertEscalationAfterSec int `mapstructure:"alert_escalation_after_sec"`

	ReportPollIntervalSec int `mapstructure:"report_poll_interval_sec"`
	ReportBackoffBaseSec  int `mapstructure:"report_backoff_base_sec"`
	ReportBackoffCapSec   int `mapstructure:"report_backoff_cap_sec"`

	SchedulerGracePeriodSec   int `mapstructure:"scheduler_grace_period_sec"`
	SchedulerTaskFailureLimit int `mapstructure:"scheduler_task_failure_limit"` // consecutive failures before a task is disabled

	IngestMaxPayloadBytes int     `mapstructure:"ingest_max_payload_bytes"`
	IngestRatePerSec      float64 `mapstructure:"ingest_rate_per_sec"` // token bucket on POST /events; 0 = disabled
	IngestRateBurst       int     `mapstructure:"ingest_rate_burst"`

	TracingEndpoint     string  `mapstructure:"tracing_endpoint"` // OTLP endpoint; "" = tracing disabled
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`

	NotifyWebhooks []string `mapstructure:"notify_webhooks"` // URLs receiving alert trigger/resolve payloads

	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = use server default
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"` // graceful shutdown wait
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/pulseboard/")
	viper.AddConfigPath("$HOME/.pulseboard")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_driver", "sqlite")
	viper.SetDefault("database_dsn", "./pulseboard.db")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("retention_events_days", 30)
	viper.SetDefault("retention_samples_days", 30)
	viper.SetDefault("telemetry_interval_sec", 60)
	viper.SetDefault("telemetry_disk_path", "/")
	viper.SetDefault("alert_eval_interval_sec", 30)
	viper.SetDefault("alert_cooldown_sec", 300)
	viper.SetDefault("alert_dedup_window_sec", 60)
	viper.SetDefault("alert_escalation_after_sec", 1800)
	viper.SetDefault("report_poll_interval_sec", 60)
	viper.SetDefault("report_backoff_base_sec", 60)
	viper.SetDefault("report_backoff_cap_sec", 3600)
	viper.SetDefault("scheduler_grace_period_sec", 5)
	viper.SetDefault("scheduler_task_failure_limit", 5)
	viper.SetDefault("ingest_max_payload_bytes", 64*1024)
	viper.SetDefault("ingest_rate_per_sec", 0) // 0 = disabled
	viper.SetDefault("ingest_rate_burst", 0)
	viper.SetDefault("tracing_endpoint", "")
	viper.SetDefault("tracing_sampling_rate", 1.0)
	viper.SetDefault("notify_webhooks", []string{})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)

	// Environment variables
	viper.SetEnvPrefix("PULSEBOARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Durations derived from the integer-second settings.

func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.TelemetryIntervalSec) * time.Second
}

func (c *Config) AlertEvalInterval() time.Duration {
	return time.Duration(c.AlertEvalIntervalSec) * time.Second
}

func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownSec) * time.Second
}

func (c *Config) AlertDedupWindow() time.Duration {
	return time.Duration(c.AlertDedupWindowSec) * time.Second
}

func (c *Config) AlertEscalationAfter() time.Duration {
	return time.Duration(c.AlertEscalationAfterSec) * time.Second
}

func (c *Config) ReportPollInterval() time.Duration {
	return time.Duration(c.ReportPollIntervalSec) * time.Second
}

func (c *Config) ReportBackoffBase() time.Duration {
	return time.Duration(c.ReportBackoffBaseSec) * time.Second
}

func (c *Config) ReportBackoffCap() time.Duration {
	return time.Duration(c.ReportBackoffCapSec) * time.Second
}

func (c *Config) SchedulerGracePeriod() time.Duration {
	return time.Duration(c.SchedulerGracePeriodSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
