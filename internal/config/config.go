// Package config loads repolens configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for repolens.
type Config struct {
	// LLM endpoint (OpenAI-compatible).
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	GitHubToken string

	DBPath string

	TokensPerMinute int
	MaxConcurrent   int
	DailyTokenLimit int

	TelegramToken  string
	TelegramChatID int64
}

// Load reads a .env file when present, then environment variables.
// Uses sensible defaults for optional fields; required fields are checked
// per subcommand via the Require helpers.
func Load() *Config {
	_ = godotenv.Load() // Missing .env is fine — plain env vars still apply.

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)

	return &Config{
		LLMAPIKey:  os.Getenv("ANALYZE_REPO_LLM_API_KEY"),
		LLMBaseURL: os.Getenv("ANALYZE_REPO_LLM_BASE_URL"),
		LLMModel:   os.Getenv("ANALYZE_REPO_LLM_MODEL"),

		GitHubToken: os.Getenv("GITHUB_ACCESS_TOKEN"),

		DBPath: getEnv("DB_PATH", "repolens.db"),

		TokensPerMinute: getEnvInt("TOKENS_PER_MINUTE", 80000),
		MaxConcurrent:   getEnvInt("MAX_CONCURRENT", 4),
		DailyTokenLimit: getEnvInt("DAILY_TOKEN_LIMIT", 1_000_000),

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: chatID,
	}
}

// RequireLLM validates the fields the analyze command needs.
func (c *Config) RequireLLM() error {
	switch {
	case c.LLMAPIKey == "":
		return fmt.Errorf("config: ANALYZE_REPO_LLM_API_KEY must be set")
	case c.LLMBaseURL == "":
		return fmt.Errorf("config: ANALYZE_REPO_LLM_BASE_URL must be set")
	case c.LLMModel == "":
		return fmt.Errorf("config: ANALYZE_REPO_LLM_MODEL must be set")
	}
	return nil
}

// RequireGitHub validates the fields the search and download commands need.
func (c *Config) RequireGitHub() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("config: GITHUB_ACCESS_TOKEN must be set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
