package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yml"

var envPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Feed       FeedConfig       `yaml:"feed"`
	Retention  RetentionConfig  `yaml:"retention"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

type FeedConfig struct {
	URL                 string        `yaml:"url" validate:"required,url"`
	ReconnectAttempts   int           `yaml:"reconnect_attempts" validate:"gte=0"`
	InitialRetryDelay   time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	Backoff             string        `yaml:"backoff" validate:"oneof=fixed exponential"`
	Encoding            string        `yaml:"encoding" validate:"oneof=json msgpack"`
	KeyStyle            string        `yaml:"key_style" validate:"omitempty,oneof=either camel capitalized"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	MaxMissedHeartbeats int           `yaml:"max_missed_heartbeats" validate:"gte=1"`
	LocalIP             string        `yaml:"local_ip" validate:"omitempty,ip"`
	UserAgent           string        `yaml:"user_agent"`
	ReadLimit           int64         `yaml:"read_limit" validate:"gte=0"`
}

type RetentionConfig struct {
	RecordLimit     int           `yaml:"record_limit" validate:"gte=1"`
	ResetLimit      int           `yaml:"reset_limit" validate:"gte=0"`
	ResetClearDelay time.Duration `yaml:"reset_clear_delay"`
	ResetReason     string        `yaml:"reset_reason"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history" validate:"gte=0"`
	EventHistory    int           `yaml:"event_history" validate:"gte=0"`
	ResourceHistory int           `yaml:"resource_history" validate:"gte=0"`
}

type MetricsConfig struct {
	Prometheus     bool             `yaml:"prometheus"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ArchiveConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Dir         string   `yaml:"dir"`
	Compression string   `yaml:"compression" validate:"oneof=snappy gzip none"`
	QueueSize   int      `yaml:"queue_size" validate:"gte=1"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Optionflow: OptionflowConfig{Name: "optionflow", Version: "dev"},
		Feed: FeedConfig{
			URL:                 "ws://localhost:8090/trades",
			ReconnectAttempts:   5,
			InitialRetryDelay:   time.Second,
			MaxRetryDelay:       30 * time.Second,
			RetryDelay:          5 * time.Second,
			ConnectTimeout:      5 * time.Second,
			Backoff:             "fixed",
			Encoding:            "json",
			KeyStyle:            "either",
			HeartbeatInterval:   30 * time.Second,
			MaxMissedHeartbeats: 2,
		},
		Retention: RetentionConfig{
			RecordLimit:     1000,
			ResetLimit:      200,
			ResetClearDelay: 3 * time.Second,
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			EventHistory:    200,
			ResourceHistory: 200,
		},
		Metrics: MetricsConfig{
			Prometheus:     true,
			ReportInterval: 30 * time.Second,
			CloudWatch:     CloudWatchConfig{Namespace: "OptionFlow"},
		},
		Archive: ArchiveConfig{
			Dir:         "data/archive",
			Compression: "snappy",
			QueueSize:   16,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads path, or the APP_ENV specific file when path is the
// default, on top of Default and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, envPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	config.Feed.Encoding = strings.ToLower(strings.TrimSpace(config.Feed.Encoding))
	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEED_ENCODING"); v != "" {
		config.Feed.Encoding = strings.TrimSpace(v)
	}
	if v := os.Getenv("RETENTION_RECORD_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.Retention.RecordLimit = n
		}
	}
	if v := os.Getenv("DASHBOARD_ADDRESS"); v != "" {
		config.Dashboard.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Archive.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed '%s' check", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return err
	}

	if cfg.Feed.ConnectTimeout <= 0 {
		return fmt.Errorf("feed.connect_timeout must be greater than 0")
	}
	if cfg.Feed.RetryDelay <= 0 {
		return fmt.Errorf("feed.retry_delay must be greater than 0")
	}
	if cfg.Feed.InitialRetryDelay <= 0 {
		return fmt.Errorf("feed.initial_retry_delay must be greater than 0")
	}
	if cfg.Feed.MaxRetryDelay < cfg.Feed.InitialRetryDelay {
		return fmt.Errorf("feed.max_retry_delay must not be less than feed.initial_retry_delay")
	}
	if cfg.Feed.HeartbeatInterval < 0 {
		return fmt.Errorf("feed.heartbeat_interval must not be negative")
	}
	u, err := url.Parse(cfg.Feed.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("feed.url '%s' must use the ws or wss scheme", cfg.Feed.URL)
	}
	if env := Environment(); requiresTLSFeed(env) && u.Scheme != "wss" {
		return fmt.Errorf("feed.url must use wss in %s", env)
	}

	if cfg.Retention.ResetLimit > cfg.Retention.RecordLimit {
		return fmt.Errorf("retention.reset_limit must not exceed retention.record_limit")
	}
	if cfg.Retention.ResetClearDelay <= 0 {
		return fmt.Errorf("retention.reset_clear_delay must be greater than 0")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.RefreshInterval <= 0 {
		return fmt.Errorf("dashboard.refresh_interval must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	if cfg.Archive.Enabled && !cfg.Archive.S3.Enabled && cfg.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when archiving locally")
	}
	if cfg.Archive.S3.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when S3 is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	return nil
}

// fieldPath turns "Config.Feed.MaxMissedHeartbeats" into
// "feed.max_missed_heartbeats".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

var snakeBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func snakeCase(s string) string {
	s = strings.ReplaceAll(s, "IP", "Ip")
	s = strings.ReplaceAll(s, "URL", "Url")
	s = strings.ReplaceAll(s, "S3", "s3")
	return strings.ToLower(snakeBoundary.ReplaceAllString(s, "${1}_${2}"))
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
