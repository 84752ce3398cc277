package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `optionflow:
  name: "TestApp"
  version: "1.0"
feed:
  url: "ws://127.0.0.1:9000/trades"
  encoding: msgpack
retention:
  reset_limit: 250
  reset_clear_delay: 2s
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Optionflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Optionflow.Name)
	}
	if cfg.Feed.Encoding != "msgpack" {
		t.Errorf("unexpected encoding: %s", cfg.Feed.Encoding)
	}
	if cfg.Feed.ReconnectAttempts != 5 || cfg.Feed.RetryDelay != 5*time.Second || cfg.Feed.ConnectTimeout != 5*time.Second {
		t.Errorf("feed defaults not applied: %+v", cfg.Feed)
	}
	if cfg.Feed.MaxRetryDelay != 30*time.Second || cfg.Feed.MaxMissedHeartbeats != 2 {
		t.Errorf("feed defaults not applied: %+v", cfg.Feed)
	}
	if cfg.Retention.RecordLimit != 1000 || cfg.Retention.ResetLimit != 250 || cfg.Retention.ResetClearDelay != 2*time.Second {
		t.Errorf("unexpected retention: %+v", cfg.Retention)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"feed.backoff": `feed:
  backoff: linear
`,
		"feed.encoding": `feed:
  encoding: xml
`,
		"feed.max_missed_heartbeats": `feed:
  max_missed_heartbeats: 0
`,
		"feed.local_ip": `feed:
  local_ip: not-an-ip
`,
		"ws or wss": `feed:
  url: "http://example.com/trades"
`,
		"retention.reset_limit must not exceed": `retention:
  record_limit: 100
  reset_limit: 200
`,
		"feed.max_retry_delay": `feed:
  initial_retry_delay: 10s
  max_retry_delay: 1s
`,
		"archive.s3.bucket is required": `archive:
  enabled: true
  s3:
    enabled: true
    region: us-east-1
`,
		"archive.s3.bucket 'Bad_Bucket' is invalid": `archive:
  s3:
    enabled: true
    bucket: Bad_Bucket
    region: us-east-1
`,
		"metrics.cloudwatch.region": `metrics:
  cloudwatch:
    enabled: true
`,
	}

	t.Setenv("AWS_REGION", "")
	t.Setenv("ARCHIVE_S3_BUCKET", "")
	for want, content := range cases {
		_, err := Parse([]byte(content))
		if err == nil {
			t.Fatalf("expected error containing %q", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FEED_URL", "wss://feed.example.com/trades")
	t.Setenv("FEED_ENCODING", "MSGPACK")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("ARCHIVE_S3_BUCKET", "trade-archive")

	cfg, err := Parse([]byte(`archive:
  enabled: true
  s3:
    enabled: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Feed.URL != "wss://feed.example.com/trades" || cfg.Feed.Encoding != "msgpack" {
		t.Errorf("feed overrides not applied: %+v", cfg.Feed)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
	s3 := cfg.Archive.S3
	if s3.Bucket != "trade-archive" || s3.Region != "eu-west-1" || s3.AccessKeyID != "key" || s3.SecretAccessKey != "secret" {
		t.Errorf("s3 overrides not applied: %+v", s3)
	}
}

func TestProductionRequiresTLSFeed(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("FEED_URL", "")

	if _, err := Parse([]byte(`feed:
  url: "ws://feed.example.com/trades"
`)); err == nil {
		t.Fatal("expected plaintext feed url to be rejected in production")
	}
	if _, err := Parse([]byte(`feed:
  url: "wss://feed.example.com/trades"
`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	t.Setenv("APP_ENV", "stagging")
	if got := resolveEnvSpecificPath("", DefaultPath, envPaths); got != "config/config.staging.yml" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := resolveEnvSpecificPath("custom.yml", DefaultPath, envPaths); got != "custom.yml" {
		t.Fatalf("explicit path overridden: %q", got)
	}
}

func TestLoadConfigUsesEnvironmentFileAndRequiresTLS(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("FEED_URL", "")

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	prodPath := filepath.Join("config", "config.production.yml")
	write := func(url string) {
		t.Helper()
		content := "feed:\n  url: \"" + url + "\"\n"
		if err := os.WriteFile(prodPath, []byte(content), 0o644); err != nil {
			t.Fatalf("write production config: %v", err)
		}
	}

	write("ws://feed.example.com/trades")
	_, err = LoadConfig(DefaultPath)
	if err == nil || !strings.Contains(err.Error(), "wss") {
		t.Fatalf("expected wss error from production file, got %v", err)
	}

	write("wss://feed.example.com/trades")
	cfg, err := LoadConfig(DefaultPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Feed.URL != "wss://feed.example.com/trades" {
		t.Fatalf("production file not used: %q", cfg.Feed.URL)
	}
}

func TestEnvironmentAliases(t *testing.T) {
	cases := map[string]string{
		"":         environmentDevelopment,
		" Dev ":    environmentDevelopment,
		"PROD":     environmentProduction,
		"stagging": environmentStaging,
		"qa":       "qa",
	}
	for in, want := range cases {
		t.Setenv("APP_ENV", in)
		if got := Environment(); got != want {
			t.Errorf("APP_ENV=%q: got %q want %q", in, got, want)
		}
	}
	if requiresTLSFeed(environmentDevelopment) || !requiresTLSFeed(environmentStaging) {
		t.Fatal("unexpected tls requirement")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	valid := []string{"abc", "trade-archive", "my.bucket.name"}
	invalid := []string{"ab", "-bucket", "bucket.", "a..b", "UPPER"}
	for _, name := range valid {
		if !isValidS3Bucket(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}
	for _, name := range invalid {
		if isValidS3Bucket(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}
