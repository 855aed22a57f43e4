package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

providers:
  - name: openai
    api_key: ${TEST_API_KEY}
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
  - name: anthropic
    api_key: sk-ant-literal
    base_url: https://api.anthropic.com/v1
    dialect_hint: anthropic_compatible

logging:
  enabled: true
  storage_path: /tmp/llmrouter.db
`)
	t.Setenv("TEST_API_KEY", "my-secret-key")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	assert.Equal(t, "my-secret-key", cfg.Providers[0].APIKey)
	assert.Equal(t, "openai_compatible", cfg.Providers[0].DialectHint)
	assert.Equal(t, "anthropic", cfg.Providers[1].Name)
	assert.Equal(t, "sk-ant-literal", cfg.Providers[1].APIKey)

	assert.True(t, cfg.Logging.Enabled)
	assert.Equal(t, "/tmp/llmrouter.db", cfg.Logging.StoragePath)
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s

providers:
  - name: openai
    api_key: sk-test
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
`)

	t.Setenv("LLMROUTER_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadAppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - name: openai
    api_key: sk-test
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Server.MaxConnectionsPerProvider)
	assert.Equal(t, 30, cfg.Server.UpstreamTimeoutSeconds)
	assert.Equal(t, "llmrouter.db", cfg.Logging.StoragePath)
	assert.Equal(t, 1000, cfg.Logging.QueueCapacity)
}

func TestLoadRejectsNoProviders(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8080
`)

	_, err := Load(configPath)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsInvalidDialectHint(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - name: weird
    api_key: sk-test
    base_url: https://example.com
    dialect_hint: not_a_real_dialect
`)

	_, err := Load(configPath)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsDuplicateProviderNames(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - name: openai
    api_key: sk-test
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
  - name: openai
    api_key: sk-test-2
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
`)

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestCacheProbabilities_ToProbabilities_DefaultsZeroFields(t *testing.T) {
	empty := CacheProbabilities{}
	p := empty.ToProbabilities()

	assert.Equal(t, 0.3, p.Base)
	assert.Equal(t, 0.5, p.SystemRoleBonus)
	assert.Equal(t, 10, p.RepetitiveMinTokens)
}

func TestCacheProbabilities_ToProbabilities_OverridesNonZero(t *testing.T) {
	custom := CacheProbabilities{Base: 0.1}
	p := custom.ToProbabilities()

	assert.Equal(t, 0.1, p.Base)
	// Untouched fields still fall back to the default table.
	assert.Equal(t, 0.5, p.SystemRoleBonus)
}
