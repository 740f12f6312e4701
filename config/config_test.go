package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, "server_url: https://api.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow)
	require.NotNil(t, cfg.Retry.MaxRetries)
	assert.Equal(t, 3, *cfg.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(8<<20), cfg.HTTP.MaxResponseBytes)
	assert.NotEmpty(t, cfg.DatabasePath)
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
server_url: http://localhost:8000
database_path: /tmp/hivesync-test.db
debounce_window: 250ms
retry:
  max_retries: 5
  delay: 2s
http:
  timeout: 10s
  gzip_min_bytes: 4096
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hivesync-test.db", cfg.DatabasePath)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWindow)
	require.NotNil(t, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, *cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 4096, cfg.HTTP.GzipMinBytes)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ZeroRetriesIsNotTheDefault(t *testing.T) {
	path := writeConfig(t, "server_url: https://api.example.com\nretry:\n  max_retries: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Retry.MaxRetries)
	assert.Zero(t, *cfg.Retry.MaxRetries, "an explicit zero disables retries")
}

func TestLoad_AuthTokenEnvOverride(t *testing.T) {
	path := writeConfig(t, "server_url: https://api.example.com\nauth_token: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AuthToken)

	t.Setenv("HIVESYNC_AUTH_TOKEN", "from-env")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthToken)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "server_url: https://api.example.com\nsurver_url: oops\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing server_url", "database_path: /tmp/x.db\n"},
		{"relative url", "server_url: api.example.com\n"},
		{"bad scheme", "server_url: ftp://api.example.com\n"},
		{"negative retries", "server_url: https://x.dev\nretry:\n  max_retries: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
