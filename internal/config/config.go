// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by LoadFromEnv.
const (
	DefaultQueryTimeout = time.Hour
	DefaultPollInterval = 5 * time.Second
	DefaultMetaDBPath   = "bqflow_meta.sqlite"
	DefaultStateDir     = ".bqflow/state"
	DefaultMaxParallel  = 4
	DefaultMetricsAddr  = ":9090"
)

// BigQueryConfig holds connection settings for the BigQuery client.
type BigQueryConfig struct {
	ProjectID       string // GCP project that owns the jobs
	Location        string // job location, e.g. "US" or "europe-west1" (optional)
	CredentialsFile string // service account key file (optional; ADC when empty)
}

// PollConfig controls how submitted jobs are awaited.
type PollConfig struct {
	Timeout       time.Duration // per-job deadline; 0 disables it
	Interval      time.Duration // wait between status checks
	RateLimit     float64       // process-wide status checks per second; 0 disables limiting
	Burst         int
	CancelOnAbort bool // cancel the remote job after a timeout or context cancellation
}

// Config holds the configuration for the task runner, constructed once at
// process start and passed explicitly to everything that needs it.
type Config struct {
	BigQuery BigQueryConfig
	Poll     PollConfig

	TemplateDir string // base directory for query templates and scripts
	StateDir    string // local directory for result-state files
	StateGCSURI string // gs://bucket/prefix for result-state objects (overrides StateDir)
	MetaDBPath  string // SQLite run-history file
	MaxParallel int    // tasks executed concurrently within one level
	MetricsAddr string // listen address for /metrics and /healthz in schedule mode

	LogLevel  string // debug, info, warn, error (default "info")
	LogFormat string // json (default) or text
	Env       string // "development" (default) or "production"

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		BigQuery: BigQueryConfig{
			ProjectID:       firstNonEmpty(os.Getenv("BQ_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT")),
			Location:        os.Getenv("BQ_LOCATION"),
			CredentialsFile: firstNonEmpty(os.Getenv("BQ_CREDENTIALS_FILE"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		},
		Poll: PollConfig{
			Timeout:       DefaultQueryTimeout,
			Interval:      DefaultPollInterval,
			CancelOnAbort: parseBoolEnvDefault("CANCEL_ON_ABORT", false),
		},
		TemplateDir: os.Getenv("TEMPLATE_DIR"),
		StateDir:    os.Getenv("STATE_DIR"),
		StateGCSURI: os.Getenv("STATE_GCS_URI"),
		MetaDBPath:  os.Getenv("META_DB_PATH"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFormat:   os.Getenv("LOG_FORMAT"),
		Env:         os.Getenv("ENV"),
	}

	// QUERY_TIMEOUT accepts a Go duration or plain seconds; "0" disables the deadline.
	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QUERY_TIMEOUT %q: %w", v, err)
		}
		cfg.Poll.Timeout = d
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("POLL_INTERVAL must be positive")
		}
		cfg.Poll.Interval = d
	}
	if v := os.Getenv("POLL_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Poll.RateLimit = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid POLL_RATE_LIMIT %q", v))
		}
	}
	if v := os.Getenv("POLL_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Poll.Burst = n
		}
	}
	if v := os.Getenv("MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_PARALLEL %q: must be a positive integer", v)
		}
		cfg.MaxParallel = n
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = DefaultMetaDBPath
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.TemplateDir == "" {
		cfg.TemplateDir = "."
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Poll.RateLimit > 0 && cfg.Poll.Burst == 0 {
		cfg.Poll.Burst = 1
	}
	if cfg.StateGCSURI != "" && !strings.HasPrefix(cfg.StateGCSURI, "gs://") {
		return nil, fmt.Errorf("STATE_GCS_URI must start with gs://, got %q", cfg.StateGCSURI)
	}

	if cfg.BigQuery.ProjectID == "" {
		cfg.Warnings = append(cfg.Warnings, "BQ_PROJECT_ID is not set; commands that reach BigQuery will fail")
	}
	if cfg.Poll.Timeout == 0 {
		cfg.Warnings = append(cfg.Warnings, "QUERY_TIMEOUT=0: jobs are polled until they complete")
	}

	// Production mode: unbounded waits and missing projects are fatal.
	if cfg.IsProduction() {
		if cfg.BigQuery.ProjectID == "" {
			return nil, fmt.Errorf("BQ_PROJECT_ID must be set in production (ENV=production)")
		}
		if cfg.Poll.Timeout == 0 {
			return nil, fmt.Errorf("QUERY_TIMEOUT must be positive in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
