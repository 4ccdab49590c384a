// Package analyze runs batches of LLM summarization jobs under a bounded
// concurrency gate and the shared token budget.
package analyze

import (
	"time"

	"github.com/yourusername/repolens/internal/llm"
)

// Kind selects the cache namespace and response budget for a job.
type Kind int

const (
	KindFileSummary Kind = iota
	KindPackageReport
)

// String returns the cache namespace label for the kind.
func (k Kind) String() string {
	switch k {
	case KindPackageReport:
		return "package_report"
	default:
		return "file_summary"
	}
}

// Job is one unit of batch work: a prompt to send plus identity for the
// cache and usage records.
type Job struct {
	Kind     Kind
	CacheKey string
	Messages []llm.Message

	// MaxResponseTokens is the response allowance: reserved from the token
	// budget on top of the request estimate, and passed as max_tokens.
	MaxResponseTokens int

	// Identity, for logs and usage accounting.
	Repo    string
	Package string
	Path    string
}

// Result is the outcome of one job. Failures are data, never panics.
type Result struct {
	Text   string
	Err    error
	Cached bool

	// EstimatedTokens and Waited are zero for cache hits.
	EstimatedTokens int
	Waited          time.Duration
}

// OK reports whether the job produced usable text.
func (r Result) OK() bool {
	return r.Err == nil && r.Text != ""
}
