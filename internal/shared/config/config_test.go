package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCredentialsAndBackends(t *testing.T) {
	t.Setenv("username_alice", "sk-alice-key")
	t.Setenv("username_bob", "sk-bob-key")
	t.Setenv("SERVER_ollama", "http://10.0.0.2:11434")
	t.Setenv("SERVER_vllm", "http://10.0.0.3:8000,sk-upstream")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Credentials["sk-alice-key"])
	assert.Equal(t, "bob", cfg.Credentials["sk-bob-key"])

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "ollama", cfg.Backends[0].Name)
	assert.Equal(t, "http://10.0.0.2:11434", cfg.Backends[0].BaseURL)
	assert.Empty(t, cfg.Backends[0].APIKey)
	assert.Equal(t, "vllm", cfg.Backends[1].Name)
	assert.Equal(t, "http://10.0.0.3:8000", cfg.Backends[1].BaseURL)
	assert.Equal(t, "sk-upstream", cfg.Backends[1].APIKey)
}

func TestLoadBackendOrderIsDeterministic(t *testing.T) {
	t.Setenv("username_alice", "sk-alice-key")
	t.Setenv("SERVER_zeta", "http://zeta:8000")
	t.Setenv("SERVER_alpha", "http://alpha:8000")
	t.Setenv("SERVER_mid", "http://mid:8000")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 3)
	assert.Equal(t, "alpha", cfg.Backends[0].Name)
	assert.Equal(t, "mid", cfg.Backends[1].Name)
	assert.Equal(t, "zeta", cfg.Backends[2].Name)
}

func TestLoadLegacyFallbackBackend(t *testing.T) {
	t.Setenv("username_alice", "sk-alice-key")
	t.Setenv("SERVER_IP", "192.168.1.5")
	t.Setenv("SERVER_PORT", "11434")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "default", cfg.Backends[0].Name)
	assert.Equal(t, "http://192.168.1.5:11434", cfg.Backends[0].BaseURL)
}

func TestLoadDefaultBackendWhenNothingConfigured(t *testing.T) {
	t.Setenv("username_alice", "sk-alice-key")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "default", cfg.Backends[0].Name)
	assert.Equal(t, "http://localhost:8000", cfg.Backends[0].BaseURL)
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("SERVER_ollama", "http://10.0.0.2:11434")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("username_alice", "sk-alice-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ForwardTimeout)
	assert.Equal(t, 32, cfg.CatalogCapacity)
	assert.Equal(t, 10*time.Second, cfg.CatalogTimeout)
	assert.Equal(t, "api_usage.jsonl", cfg.AuditLogFile)
	assert.Equal(t, "service.log", cfg.ServiceLogFile)
}
