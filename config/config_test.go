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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 1000, cfg.Document.ChunkSize)
	assert.Equal(t, 200, cfg.Document.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, 0, cfg.Retrieval.FetchK)
	assert.InDelta(t, 0.7, cfg.Retrieval.Lambda, 1e-6)
	assert.InDelta(t, 0.25, cfg.Retrieval.MinScore, 1e-6)
	assert.Equal(t, 3, cfg.Analysis.Concurrency)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.QA.TopK)
	assert.Equal(t, time.Hour, cfg.QA.CacheTTL)
	assert.Empty(t, cfg.Auth.APIKey)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	t.Setenv(APIKeyEnv, "")

	path := writeConfig(t, `
server:
  port: 9090
auth:
  api_key: "secret-key"
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: "${TEST_LLM_KEY}"
embed:
  api_key: "${TEST_MISSING_KEY}"
document:
  chunk_size: 800
  chunk_overlap: 100
retrieval:
  k: 4
  fetch_k: 12
analysis:
  timeout: 2m
  risk_rules:
    Governing Law:
      high: ["exclusive venue"]
      low: ["local courts"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret-key", cfg.Auth.APIKey)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Empty(t, cfg.Embed.APIKey, "unresolved reference must not leak the placeholder")
	assert.Equal(t, 800, cfg.Document.ChunkSize)
	assert.Equal(t, 12, cfg.Retrieval.FetchK)
	assert.Equal(t, 2*time.Minute, cfg.Analysis.Timeout)

	// viper会把map键转为小写
	rule, ok := cfg.Analysis.RiskRules["governing law"]
	require.True(t, ok)
	assert.Equal(t, []string{"exclusive venue"}, rule.High)
	assert.Equal(t, []string{"local courts"}, rule.Low)
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv(APIKeyEnv, "example-key")

	cfg, err := Load(filepath.Join("..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "example-key", cfg.Auth.APIKey)
	assert.Equal(t, "sqlite", cfg.VectorDB.Type)
	assert.Equal(t, 50000, cfg.Cache.MaxItems)
	require.Contains(t, cfg.Analysis.RiskRules, "governing law")
	assert.Len(t, cfg.Analysis.RiskRules["governing law"].High, 2)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_K", "7")
	t.Setenv("LLM_MODEL", "mistral")
	t.Setenv(APIKeyEnv, "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.K)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, "env-key", cfg.Auth.APIKey)
}

func TestLoadInvalid(t *testing.T) {
	t.Run("Malformed YAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [port"))
		assert.Error(t, err)
	})

	t.Run("Overlap not below chunk size", func(t *testing.T) {
		_, err := Load(writeConfig(t, "document:\n  chunk_size: 100\n  chunk_overlap: 100\n"))
		assert.ErrorContains(t, err, "chunk_overlap")
	})

	t.Run("Fetch K below K", func(t *testing.T) {
		_, err := Load(writeConfig(t, "retrieval:\n  k: 5\n  fetch_k: 3\n"))
		assert.ErrorContains(t, err, "fetch_k")
	})

	t.Run("Lambda out of range", func(t *testing.T) {
		_, err := Load(writeConfig(t, "retrieval:\n  lambda: 1.5\n"))
		assert.ErrorContains(t, err, "lambda")
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_ME", "value")

	assert.Equal(t, "value", expandEnv("${EXPAND_ME}"))
	assert.Equal(t, "", expandEnv("${NOT_SET_ANYWHERE_123}"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "prefix-${EXPAND_ME}", expandEnv("prefix-${EXPAND_ME}"))
}
