package analyze

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/repolens/internal/llm"
)

// Cache is the summary store consulted before any LLM work.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, kind, content string) error
}

// Reserver admits token reservations, blocking until capacity frees up.
type Reserver interface {
	Reserve(tokens int) (time.Duration, error)
}

// Estimator approximates the request token count for a chat call.
type Estimator interface {
	EstimateMessages(msgs []llm.Message) int
}

// Invoker performs the external LLM call.
type Invoker interface {
	Invoke(ctx context.Context, msgs []llm.Message, maxTokens int) (string, error)
}

// Runner fans jobs out across a bounded concurrency gate. All dependencies
// are injected; the limiter and cache are shared across the whole batch.
type Runner struct {
	cache     Cache
	limiter   Reserver
	estimator Estimator
	invoker   Invoker

	// Progress, when set, is called once per completed job.
	Progress func()
}

// NewRunner creates a Runner.
func NewRunner(cache Cache, limiter Reserver, estimator Estimator, invoker Invoker) *Runner {
	return &Runner{
		cache:     cache,
		limiter:   limiter,
		estimator: estimator,
		invoker:   invoker,
	}
}

// RunAll executes all jobs with at most maxConcurrent in flight and returns
// one Result per job, index-aligned with the input. Individual failures
// (including panics in a job body) are captured in that job's slot and
// never abort the batch. RunAll returns only after every job finished.
func (r *Runner) RunAll(ctx context.Context, jobs []Job, maxConcurrent int) []Result {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	results := make([]Result, len(jobs))
	gate := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gate <- struct{}{}
			defer func() { <-gate }()
			defer func() {
				if rv := recover(); rv != nil {
					results[i] = Result{Err: fmt.Errorf("analyze: job %s panicked: %v", jobs[i].CacheKey, rv)}
				}
				if r.Progress != nil {
					r.Progress()
				}
			}()
			results[i] = r.runOne(ctx, jobs[i])
		}(i)
	}

	wg.Wait()
	return results
}

// runOne is the per-job flow: cache check, token estimate, budget
// reservation, external call, cache write.
func (r *Runner) runOne(ctx context.Context, job Job) Result {
	cached, err := r.cache.Get(ctx, job.CacheKey)
	if err != nil {
		// A broken cache read is a miss, not a job failure.
		log.Printf("analyze: cache read %s: %v", job.CacheKey, err)
	} else if cached != "" {
		return Result{Text: cached, Cached: true}
	}

	// Reserve for both the request and the worst-case response.
	estimated := r.estimator.EstimateMessages(job.Messages) + job.MaxResponseTokens
	waited, err := r.limiter.Reserve(estimated)
	if err != nil {
		return Result{Err: fmt.Errorf("analyze: reserve for %s: %w", job.CacheKey, err)}
	}
	if waited > 0 {
		log.Printf("analyze: waited %.1fs for token budget (%d tokens, %s)",
			waited.Seconds(), estimated, job.CacheKey)
	}

	text, err := r.invoker.Invoke(ctx, job.Messages, job.MaxResponseTokens)
	if err != nil {
		if llm.IsRateLimit(err) {
			log.Printf("analyze: provider throttled %s: %v", job.CacheKey, err)
		}
		return Result{Err: err, EstimatedTokens: estimated, Waited: waited}
	}

	if err := r.cache.Put(ctx, job.CacheKey, job.Kind.String(), text); err != nil {
		// The summary was produced; a failed cache write only costs a re-run.
		log.Printf("analyze: cache write %s: %v", job.CacheKey, err)
	}
	return Result{Text: text, EstimatedTokens: estimated, Waited: waited}
}
