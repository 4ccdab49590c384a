// Package tokenizer provides token estimation and usage governance.
package tokenizer

import (
	"strings"

	"github.com/yourusername/repolens/internal/llm"
)

// Fixed framing overheads invisible to raw text length.
const (
	messageOverhead = 4  // per-message role/content framing
	callOverhead    = 10 // per-call API structure
)

const defaultCharsPerToken = 4

// Rough characters-per-token by model family. Matched by prefix; anything
// unknown falls back to the generic ratio.
var modelCharsPerToken = map[string]int{
	"gpt-":    4,
	"o1":      4,
	"o3":      4,
	"claude-": 4,
	"llama":   4,
	"mistral": 3,
	"qwen":    3,
	"deepsee": 3,
}

// Estimator approximates token counts for a specific model family.
// Estimates are deterministic and monotone in input length.
type Estimator struct {
	charsPerToken int
}

// ForModel returns an Estimator tuned for the given model identifier,
// falling back to a generic approximation for unknown models.
func ForModel(model string) *Estimator {
	lower := strings.ToLower(model)
	for prefix, cpt := range modelCharsPerToken {
		if strings.HasPrefix(lower, prefix) {
			return &Estimator{charsPerToken: cpt}
		}
	}
	return &Estimator{charsPerToken: defaultCharsPerToken}
}

// Estimate returns the approximate token count of the concatenated fragments.
func (e *Estimator) Estimate(fragments ...string) int {
	total := 0
	for _, f := range fragments {
		total += e.estimateOne(f)
	}
	return total
}

func (e *Estimator) estimateOne(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + e.charsPerToken - 1) / e.charsPerToken
}

// EstimateMessages approximates the request token count for a chat call,
// including per-message and per-call framing overheads.
func (e *Estimator) EstimateMessages(msgs []llm.Message) int {
	total := callOverhead
	for _, m := range msgs {
		total += e.estimateOne(m.Role) + e.estimateOne(m.Content) + messageOverhead
	}
	return total
}

// EstimateTokens estimates the token count of a text string using the
// generic rule of thumb: ~4 characters per token.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
