package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// t.TempDir() gives us a directory that's auto-deleted after the test.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

upstream:
  base_url: https://example.com/v1internal
  request_timeout_secs: 45

accounts:
  - identifier: acct-a
    access_token: ${TEST_ACCESS_TOKEN}
    project_id: proj-a
    session_id: sess-a

anthropic_model_mapping:
  sonnet: gemini-3-pro-preview
  haiku: gemini-2.0-flash-exp

cooldown:
  backend: memory
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err) // require stops the test immediately if this fails

	// t.Setenv auto-restores the original value when the test finishes.
	t.Setenv("TEST_ACCESS_TOKEN", "my-secret-token")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, "https://example.com/v1internal", cfg.Upstream.BaseURL)
	assert.Equal(t, 45, cfg.Upstream.RequestTimeoutSecs)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "acct-a", cfg.Accounts[0].Identifier)
	assert.Equal(t, "my-secret-token", cfg.Accounts[0].AccessToken)
	assert.Equal(t, "proj-a", cfg.Accounts[0].ProjectID)

	assert.Equal(t, "gemini-3-pro-preview", cfg.AnthropicModelMapping["sonnet"])
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.AnthropicModelMapping["haiku"])
}

func TestLoadEnvOverride(t *testing.T) {
	// Verify that GRAVITYPROXY_ env vars override YAML values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// This should override server.port from 8080 to 3000.
	t.Setenv("GRAVITYPROXY_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadDefaults(t *testing.T) {
	// An empty config file should still produce usable defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8045, cfg.Server.Port)
	assert.Equal(t, "https://daily-cloudcode-pa.sandbox.googleapis.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 120, cfg.Upstream.RequestTimeoutSecs)
	assert.Equal(t, "memory", cfg.Cooldown.Backend)
}

func TestLoadRedisURLExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
cooldown:
  backend: redis
  redis_url: ${TEST_REDIS_URL}
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Cooldown.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cooldown.RedisURL)
}
