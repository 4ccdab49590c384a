package github

import (
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFullName(t *testing.T) {
	owner, repo, err := splitFullName("oak-security/vault")
	require.NoError(t, err)
	assert.Equal(t, "oak-security", owner)
	assert.Equal(t, "vault", repo)

	_, _, err = splitFullName("no-slash")
	assert.Error(t, err)
}

func TestPresetsKnownSearches(t *testing.T) {
	stylus, ok := Presets["stylus"]
	require.True(t, ok)
	assert.Contains(t, stylus.DepQuery, "stylus-sdk")
	assert.Equal(t, "#[entrypoint]", stylus.Snippet)

	anchor := Presets["anchor"]
	assert.Equal(t, "#[program]", anchor.Snippet)

	solana := Presets["solana"]
	assert.Equal(t, "entrypoint!", solana.Snippet)
}

func TestRateLimitWait(t *testing.T) {
	s := &Searcher{}

	retry := 10 * time.Second
	wait, ok := s.rateLimitWait(&gh.AbuseRateLimitError{RetryAfter: &retry})
	require.True(t, ok)
	assert.Equal(t, 11*time.Second, wait)

	// Abuse error without Retry-After falls back to the secondary-limit wait.
	wait, ok = s.rateLimitWait(&gh.AbuseRateLimitError{})
	require.True(t, ok)
	assert.Equal(t, fallbackWait, wait)

	// Primary limit waits until the reset timestamp.
	reset := gh.Timestamp{Time: time.Now().Add(30 * time.Second)}
	wait, ok = s.rateLimitWait(&gh.RateLimitError{Rate: gh.Rate{Reset: reset}})
	require.True(t, ok)
	assert.Greater(t, wait, 25*time.Second)

	_, ok = s.rateLimitWait(assert.AnError)
	assert.False(t, ok)
}
