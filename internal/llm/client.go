// Package llm wraps an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message roles used in prompts.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat message of a completion request.
type Message struct {
	Role    string
	Content string
}

// Client calls a chat completion API at a configurable base URL.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a Client. baseURL may point at any OpenAI-compatible server.
func New(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Invoke sends the messages and returns the completion text.
// Temperature is fixed low — summaries should be reproducible.
func (c *Client) Invoke(ctx context.Context, msgs []Message, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: 0.1,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm.Invoke: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm.Invoke: empty response from %s", c.model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Provider-side throttle signals seen across OpenAI-compatible servers.
var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"overloaded",
	"quota exceeded",
	"resource exhausted",
}

// IsRateLimit reports whether err looks like a provider-side throttle.
// Used for diagnostics only — throttled jobs fail like any other.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, kw := range rateLimitPatterns {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
