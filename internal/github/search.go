// Package github discovers candidate repositories via the GitHub search API.
package github

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/yourusername/repolens/internal/db"
)

const (
	perPage      = 100
	maxResults   = 1000 // GitHub search hard cap
	searchPause  = 3 * time.Second
	fallbackWait = time.Minute // secondary limit with no Retry-After
)

// Preset binds a dependency query to a confirming code snippet.
type Preset struct {
	DepQuery string
	Snippet  string
	Label    string
}

// Presets are the built-in program searches.
var Presets = map[string]Preset{
	"stylus": {DepQuery: `stylus-sdk filename:Cargo.toml`, Snippet: `#[entrypoint]`, Label: "Stylus"},
	"anchor": {DepQuery: `anchor-lang filename:Cargo.toml`, Snippet: `#[program]`, Label: "Anchor"},
	"solana": {DepQuery: `solana-program filename:Cargo.toml`, Snippet: `entrypoint!`, Label: "Solana"},
}

// Searcher runs the two-phase repository discovery.
type Searcher struct {
	client *gh.Client
	pause  time.Duration
	sleep  func(time.Duration)
}

// NewSearcher creates a Searcher authenticated with token.
func NewSearcher(token string) *Searcher {
	var httpClient = oauth2.NewClient(context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return &Searcher{
		client: gh.NewClient(httpClient),
		pause:  searchPause,
		sleep:  time.Sleep,
	}
}

// FindProgramRepos discovers repositories matching a preset: first every
// Cargo.toml declaring the dependency, deduplicated to non-fork repos, then
// a per-repo code search for the confirming snippet. Matches are returned
// highest stars first.
func (s *Searcher) FindProgramRepos(ctx context.Context, p Preset) ([]db.Repo, error) {
	log.Printf("github: searching for %s repositories…", p.Label)

	items, err := s.searchCode(ctx, p.DepQuery, maxResults)
	if err != nil {
		return nil, fmt.Errorf("github.FindProgramRepos: dependency search: %w", err)
	}
	log.Printf("github: %d manifest hits for %q", len(items), p.DepQuery)

	// Deduplicate to non-forked repositories, preserving first-seen order.
	seen := make(map[string]bool)
	var candidates []string
	for _, item := range items {
		repo := item.GetRepository()
		if repo == nil || repo.GetFork() {
			continue
		}
		name := repo.GetFullName()
		if !seen[name] {
			seen[name] = true
			candidates = append(candidates, name)
		}
	}
	log.Printf("github: %d unique non-forked repositories", len(candidates))

	var matched []db.Repo
	for i, fullName := range candidates {
		log.Printf("github: checking %s (%d/%d)…", fullName, i+1, len(candidates))
		query := fmt.Sprintf("repo:%s %q extension:rs", fullName, p.Snippet)

		hits, err := s.searchCode(ctx, query, 1)
		if err != nil {
			log.Printf("github: snippet search %s: %v", fullName, err)
			continue
		}
		if len(hits) == 0 {
			s.sleep(s.pause)
			continue
		}

		details, err := s.repoDetails(ctx, fullName)
		if err != nil {
			log.Printf("github: details %s: %v", fullName, err)
			continue
		}
		matched = append(matched, db.Repo{
			Name:        details.GetFullName(),
			URL:         details.GetHTMLURL(),
			Stars:       details.GetStargazersCount(),
			Description: details.GetDescription(),
			PushedAt:    details.GetPushedAt().Format(time.RFC3339),
		})
		log.Printf("github: ✓ found %s program: %s", p.Label, fullName)
		s.sleep(s.pause)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Stars != matched[j].Stars {
			return matched[i].Stars > matched[j].Stars
		}
		return matched[i].PushedAt > matched[j].PushedAt
	})
	return matched, nil
}

// searchCode pages through a code search, honoring GitHub's rate limits.
func (s *Searcher) searchCode(ctx context.Context, query string, max int) ([]*gh.CodeResult, error) {
	if max > maxResults {
		max = maxResults
	}
	opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var results []*gh.CodeResult
	for {
		res, resp, err := s.client.Search.Code(ctx, query, opts)
		if err != nil {
			if wait, ok := s.rateLimitWait(err); ok {
				log.Printf("github: rate limited, waiting %s…", wait.Round(time.Second))
				s.sleep(wait)
				continue
			}
			return nil, err
		}

		results = append(results, res.CodeResults...)
		if len(results) >= max || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		s.sleep(s.pause)
	}
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// repoDetails fetches full repository metadata, waiting out rate limits.
func (s *Searcher) repoDetails(ctx context.Context, fullName string) (*gh.Repository, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	for {
		repo, _, err := s.client.Repositories.Get(ctx, owner, name)
		if err != nil {
			if wait, ok := s.rateLimitWait(err); ok {
				log.Printf("github: rate limited, waiting %s…", wait.Round(time.Second))
				s.sleep(wait)
				continue
			}
			return nil, err
		}
		return repo, nil
	}
}

// rateLimitWait maps go-github rate limit errors to a wait duration.
func (s *Searcher) rateLimitWait(err error) (time.Duration, bool) {
	switch e := err.(type) {
	case *gh.AbuseRateLimitError:
		if e.RetryAfter != nil {
			return *e.RetryAfter + time.Second, true
		}
		return fallbackWait, true
	case *gh.RateLimitError:
		wait := time.Until(e.Rate.Reset.Time) + time.Second
		if wait < 0 {
			wait = time.Second
		}
		return wait, true
	}
	return 0, false
}

func splitFullName(fullName string) (owner, repo string, err error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("github: malformed repo name %q", fullName)
}
