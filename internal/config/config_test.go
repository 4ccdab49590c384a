package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"ANALYZE_REPO_LLM_API_KEY", "ANALYZE_REPO_LLM_BASE_URL", "ANALYZE_REPO_LLM_MODEL",
		"GITHUB_ACCESS_TOKEN", "DB_PATH",
		"TOKENS_PER_MINUTE", "MAX_CONCURRENT", "DAILY_TOKEN_LIMIT",
		"TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "repolens.db", cfg.DBPath)
	assert.Equal(t, 80000, cfg.TokensPerMinute)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 1_000_000, cfg.DailyTokenLimit)
	assert.Equal(t, int64(0), cfg.TelegramChatID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOKENS_PER_MINUTE", "120000")
	t.Setenv("MAX_CONCURRENT", "8")
	t.Setenv("DB_PATH", "/tmp/other.db")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg := Load()
	assert.Equal(t, 120000, cfg.TokensPerMinute)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, int64(42), cfg.TelegramChatID)
}

func TestLoad_MalformedIntFallsBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "lots")
	cfg := Load()
	assert.Equal(t, 4, cfg.MaxConcurrent)
}

func TestRequireLLM(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.RequireLLM())

	cfg.LLMAPIKey = "k"
	err := cfg.RequireLLM()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANALYZE_REPO_LLM_BASE_URL")

	cfg.LLMBaseURL = "https://llm.internal/v1"
	cfg.LLMModel = "gpt-4o-mini"
	assert.NoError(t, cfg.RequireLLM())
}

func TestRequireGitHub(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.RequireGitHub())

	cfg.GitHubToken = "ghp_x"
	assert.NoError(t, cfg.RequireGitHub())
}
