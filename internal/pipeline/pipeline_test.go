package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repolens/internal/analyze"
	"github.com/yourusername/repolens/internal/db"
	"github.com/yourusername/repolens/internal/llm"
	"github.com/yourusername/repolens/internal/tokenizer"
)

// dbCache adapts db.DB to analyze.Cache, mirroring the main wiring.
type dbCache struct {
	db *db.DB
}

func (c dbCache) Get(ctx context.Context, key string) (string, error) {
	return c.db.CacheGet(ctx, key)
}

func (c dbCache) Put(ctx context.Context, key, kind, content string) error {
	return c.db.CachePut(ctx, key, kind, content)
}

// countingLimiter admits instantly and counts reservations.
type countingLimiter struct {
	calls atomic.Int64
}

func (l *countingLimiter) Reserve(tokens int) (time.Duration, error) {
	l.calls.Add(1)
	return 0, nil
}

// scriptedInvoker answers file prompts and report prompts differently and
// can be told to fail for prompts containing a marker.
type scriptedInvoker struct {
	failOn string
	calls  atomic.Int64
}

func (s *scriptedInvoker) Invoke(_ context.Context, msgs []llm.Message, _ int) (string, error) {
	s.calls.Add(1)
	prompt := msgs[len(msgs)-1].Content
	if s.failOn != "" && strings.Contains(prompt, s.failOn) {
		return "", errors.New("upstream exploded")
	}
	if strings.HasPrefix(prompt, "Program:") {
		return "Package report body.", nil
	}
	return "File summary body.", nil
}

const testManifest = `
[package]
name = "vault"

[dependencies]
stylus-sdk = "0.6"
`

func writeTree(t *testing.T, root string) {
	t.Helper()
	repo := filepath.Join(root, "0-acme-vault")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "Cargo.toml"), []byte(testManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "lib.rs"), []byte("// lib"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "math.rs"), []byte("// math"), 0o644))
}

func newTestPipeline(t *testing.T, inv analyze.Invoker, lim analyze.Reserver) (*Pipeline, *db.DB) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	runner := analyze.NewRunner(dbCache{database}, lim, tokenizer.ForModel("gpt-4o"), inv)
	return &Pipeline{
		Runner:        runner,
		Governor:      tokenizer.NewGovernor(database, nil, 0),
		SystemPrompt:  "You are a reviewer.",
		MaxConcurrent: 2,
	}, database
}

func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	inv := &scriptedInvoker{}
	p, _ := newTestPipeline(t, inv, &countingLimiter{})

	sum, err := p.Run(context.Background(), root, "stylus-sdk", "")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Programs)
	assert.Equal(t, 2, sum.FilesAnalyzed)
	assert.Equal(t, 3, sum.Succeeded) // 2 file summaries + 1 report
	assert.Equal(t, 0, sum.Failed)
	require.Len(t, sum.ReportsWritten, 1)

	content, err := os.ReadFile(sum.ReportsWritten[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "# 0-acme-vault - Program Analysis")
	assert.Contains(t, string(content), "Package report body.")
}

func TestRun_SecondRunServedFromCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	inv := &scriptedInvoker{}
	lim := &countingLimiter{}
	p, _ := newTestPipeline(t, inv, lim)

	_, err := p.Run(context.Background(), root, "stylus-sdk", "")
	require.NoError(t, err)
	firstCalls := inv.calls.Load()
	firstReserves := lim.calls.Load()
	assert.Equal(t, int64(3), firstCalls)

	// Everything is cached now: no invocations, no reservations.
	sum, err := p.Run(context.Background(), root, "stylus-sdk", "")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, firstCalls, inv.calls.Load())
	assert.Equal(t, firstReserves, lim.calls.Load())
}

func TestRun_FileFailureStillProducesReport(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	// math.rs summaries fail; lib.rs survives, so the package report is
	// still generated from the remaining summary.
	inv := &scriptedInvoker{failOn: "math.rs"}
	p, _ := newTestPipeline(t, inv, &countingLimiter{})

	sum, err := p.Run(context.Background(), root, "stylus-sdk", "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Succeeded)
	require.Len(t, sum.Failures, 1)
	assert.Contains(t, sum.Failures[0], "math.rs")
	assert.Len(t, sum.ReportsWritten, 1)
}

func TestRun_NoMatchingPrograms(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	inv := &scriptedInvoker{}
	p, _ := newTestPipeline(t, inv, &countingLimiter{})

	sum, err := p.Run(context.Background(), root, "anchor-lang", "")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Programs)
	assert.Equal(t, int64(0), inv.calls.Load())
}
