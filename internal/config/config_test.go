package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/santrancisco/ai-gateway/internal/config"
)

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  host: 0.0.0.0
  port: 8081
rate_limit:
  hourly: 100
cost_control:
  daily: 5.5
  monthly: 100
  total: 1000
clickhouse:
  url: http://clickhouse.internal/insert
cors:
  origins: ["https://example.com"]
providers:
  openai:
    api_key: file-key
    endpoint: https://api.openai.com/v1
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	require.Equal(t, 8081, cfg.HTTP.Port)
	require.Equal(t, 100, cfg.RateLimit.Hourly)
	require.InDelta(t, 5.5, cfg.CostControl.Daily, 0.0001)
	require.Equal(t, "http://clickhouse.internal/insert", cfg.ClickHouse.URL)
	require.Equal(t, []string{"https://example.com"}, cfg.CORS.Origins)
	require.Equal(t, "file-key", cfg.Providers["openai"].APIKey)
}

func TestLoadEnvOverridesFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  anthropic:
    api_key: file-key
rate_limit:
  hourly: 5
`), 0o600))

	t.Setenv("LANGDB_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("GATEWAY_RATE_LIMIT_HOURLY", "50")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Providers["anthropic"].APIKey)
	require.Equal(t, 50, cfg.RateLimit.Hourly)
}

func TestLoadWithoutFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("LANGDB_OPENAI_API_KEY", "only-env-key")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "only-env-key", cfg.Providers["openai"].APIKey)
	require.Equal(t, 0, cfg.RateLimit.Hourly)
}
