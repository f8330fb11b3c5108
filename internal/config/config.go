package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the control plane.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Workers    WorkerConfig     `yaml:"workers"`
	Platforms  []PlatformConfig `yaml:"platforms"`
	Thresholds ThresholdConfig  `yaml:"thresholds"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// RedisConfig holds Redis settings. When URL is empty the queue runs in
// inline mode and rate limiting falls back to in-memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig tunes the durable work queue.
type QueueConfig struct {
	Concurrency    int `yaml:"concurrency"`      // parallel handlers
	MaxAttempts    int `yaml:"max_attempts"`     // before dead-letter
	RatePerSecond  int `yaml:"rate_per_second"`  // global processing cap
	BackoffBaseSec int `yaml:"backoff_base_sec"` // first retry delay
}

// WorkerConfig tunes the periodic sweeps.
type WorkerConfig struct {
	MetricsIntervalSeconds int `yaml:"metrics_interval_seconds"`
	MetricsBatchSize       int `yaml:"metrics_batch_size"`
	SyncIntervalMinutes    int `yaml:"sync_interval_minutes"`
	SyncDelaySeconds       int `yaml:"sync_delay_seconds"`
}

// MetricsInterval returns the metrics sweep interval as a duration.
func (c WorkerConfig) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}

// SyncInterval returns the platform sync interval as a duration.
func (c WorkerConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// PlatformConfig holds one sending platform's API settings. The key is
// read from the named env var so secrets stay out of the yaml file.
type PlatformConfig struct {
	Name           string `yaml:"name"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey resolves the platform API key from the environment.
func (c PlatformConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ThresholdConfig holds the monitoring thresholds. All values have
// defaults applied in Load; overriding is for tuning, not for disabling.
type ThresholdConfig struct {
	MailboxPauseBounces    int     `yaml:"mailbox_pause_bounces"`
	MailboxWarningBounces  int     `yaml:"mailbox_warning_bounces"`
	MailboxWarningWindow   int     `yaml:"mailbox_warning_window"`
	RollingWindowSize      int     `yaml:"rolling_window_size"`
	DomainMinimumMailboxes int     `yaml:"domain_minimum_mailboxes"`
	DomainPauseRatio       float64 `yaml:"domain_pause_ratio"`
	DomainWarnRatio        float64 `yaml:"domain_warn_ratio"`
	HardRiskCritical       float64 `yaml:"hard_risk_critical"`
	DomainDailyCap         int     `yaml:"domain_daily_cap"`
	OrgDailyCap            int     `yaml:"org_daily_cap"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifeMins == 0 {
		c.Database.ConnMaxLifeMins = 5
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 5
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.RatePerSecond == 0 {
		c.Queue.RatePerSecond = 50
	}
	if c.Queue.BackoffBaseSec == 0 {
		c.Queue.BackoffBaseSec = 5
	}
	if c.Workers.MetricsIntervalSeconds == 0 {
		c.Workers.MetricsIntervalSeconds = 60
	}
	if c.Workers.MetricsBatchSize == 0 {
		c.Workers.MetricsBatchSize = 50
	}
	if c.Workers.SyncIntervalMinutes == 0 {
		c.Workers.SyncIntervalMinutes = 20
	}
	if c.Workers.SyncDelaySeconds == 0 {
		c.Workers.SyncDelaySeconds = 2
	}
	if c.Thresholds.MailboxPauseBounces == 0 {
		c.Thresholds.MailboxPauseBounces = 5
	}
	if c.Thresholds.MailboxWarningBounces == 0 {
		c.Thresholds.MailboxWarningBounces = 3
	}
	if c.Thresholds.MailboxWarningWindow == 0 {
		c.Thresholds.MailboxWarningWindow = 60
	}
	if c.Thresholds.RollingWindowSize == 0 {
		c.Thresholds.RollingWindowSize = 100
	}
	if c.Thresholds.DomainMinimumMailboxes == 0 {
		c.Thresholds.DomainMinimumMailboxes = 3
	}
	if c.Thresholds.DomainPauseRatio == 0 {
		c.Thresholds.DomainPauseRatio = 0.5
	}
	if c.Thresholds.DomainWarnRatio == 0 {
		c.Thresholds.DomainWarnRatio = 0.3
	}
	if c.Thresholds.HardRiskCritical == 0 {
		c.Thresholds.HardRiskCritical = 60
	}
	if c.Thresholds.DomainDailyCap == 0 {
		c.Thresholds.DomainDailyCap = 30
	}
	if c.Thresholds.OrgDailyCap == 0 {
		c.Thresholds.OrgDailyCap = 100
	}
	for i := range c.Platforms {
		if c.Platforms[i].TimeoutSeconds == 0 {
			c.Platforms[i].TimeoutSeconds = 30
		}
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		// A missing config file is fine when the env carries everything.
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg, _ = Load("")
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	for i := range cfg.Platforms {
		envKey := "PLATFORM_" + envName(cfg.Platforms[i].Name) + "_BASE_URL"
		if v := os.Getenv(envKey); v != "" {
			cfg.Platforms[i].BaseURL = v
		}
	}

	return cfg, nil
}

func envName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-32)
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
