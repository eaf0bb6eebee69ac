package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"BQ_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "BQ_LOCATION", "BQ_CREDENTIALS_FILE",
	"GOOGLE_APPLICATION_CREDENTIALS", "QUERY_TIMEOUT", "POLL_INTERVAL", "POLL_RATE_LIMIT",
	"POLL_BURST", "CANCEL_ON_ABORT", "TEMPLATE_DIR", "STATE_DIR", "STATE_GCS_URI",
	"META_DB_PATH", "MAX_PARALLEL", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT", "ENV",
}

// clearEnv blanks every variable LoadFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Poll.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Zero(t, cfg.Poll.RateLimit)
	assert.False(t, cfg.Poll.CancelOnAbort)
	assert.Equal(t, "bqflow_meta.sqlite", cfg.MetaDBPath)
	assert.Equal(t, ".bqflow/state", cfg.StateDir)
	assert.Equal(t, ".", cfg.TemplateDir)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "BQ_PROJECT_ID")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("BQ_PROJECT_ID", "acme-analytics")
	t.Setenv("BQ_LOCATION", "EU")
	t.Setenv("BQ_CREDENTIALS_FILE", "/secrets/sa.json")
	t.Setenv("QUERY_TIMEOUT", "90s")
	t.Setenv("POLL_INTERVAL", "2")
	t.Setenv("POLL_RATE_LIMIT", "20")
	t.Setenv("CANCEL_ON_ABORT", "yes")
	t.Setenv("STATE_GCS_URI", "gs://bucket/state")
	t.Setenv("MAX_PARALLEL", "8")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "acme-analytics", cfg.BigQuery.ProjectID)
	assert.Equal(t, "EU", cfg.BigQuery.Location)
	assert.Equal(t, "/secrets/sa.json", cfg.BigQuery.CredentialsFile)
	assert.Equal(t, 90*time.Second, cfg.Poll.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.InDelta(t, 20.0, cfg.Poll.RateLimit, 0.001)
	assert.Equal(t, 1, cfg.Poll.Burst)
	assert.True(t, cfg.Poll.CancelOnAbort)
	assert.Equal(t, "gs://bucket/state", cfg.StateGCSURI)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_FallbackProjectVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "fallback-project")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/adc.json")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "fallback-project", cfg.BigQuery.ProjectID)
	assert.Equal(t, "/adc.json", cfg.BigQuery.CredentialsFile)
}

func TestLoadFromEnv_ZeroTimeoutWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("BQ_PROJECT_ID", "p")
	t.Setenv("QUERY_TIMEOUT", "0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Zero(t, cfg.Poll.Timeout)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "polled until they complete")
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{name: "bad timeout", key: "QUERY_TIMEOUT", value: "soon", errMsg: "QUERY_TIMEOUT"},
		{name: "negative timeout", key: "QUERY_TIMEOUT", value: "-5s", errMsg: "QUERY_TIMEOUT"},
		{name: "zero interval", key: "POLL_INTERVAL", value: "0", errMsg: "POLL_INTERVAL"},
		{name: "bad parallel", key: "MAX_PARALLEL", value: "0", errMsg: "MAX_PARALLEL"},
		{name: "bad gcs uri", key: "STATE_GCS_URI", value: "s3://bucket", errMsg: "gs://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromEnv_Production(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BQ_PROJECT_ID")

	t.Setenv("BQ_PROJECT_ID", "p")
	t.Setenv("QUERY_TIMEOUT", "0")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_TIMEOUT")
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	(&Config{LogFormat: "text"}).NewLogger(&buf).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	(&Config{}).NewLogger(&buf).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	t.Setenv("BQFLOW_TEST_KEY", "")
	t.Setenv("BQFLOW_TEST_QUOTED", "")
	t.Setenv("BQFLOW_TEST_EXPORTED", "")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nBQFLOW_TEST_KEY=test_value\nBQFLOW_TEST_QUOTED=\"quoted value\"\nexport BQFLOW_TEST_EXPORTED=1\nnot a pair\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	require.NoError(t, LoadDotEnv(envFile))

	assert.Equal(t, "test_value", os.Getenv("BQFLOW_TEST_KEY"))
	assert.Equal(t, "quoted value", os.Getenv("BQFLOW_TEST_QUOTED"))
	assert.Equal(t, "1", os.Getenv("BQFLOW_TEST_EXPORTED"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("BQFLOW_PRECEDENCE_KEY", "from_env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BQFLOW_PRECEDENCE_KEY=from_file\n"), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("BQFLOW_PRECEDENCE_KEY"))
}
