// repolens — discovers program repositories on GitHub, downloads them, and
// produces LLM-generated per-file and per-package analysis reports.
// Entry point: subcommand dispatch and wiring.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/yourusername/repolens/internal/analyze"
	"github.com/yourusername/repolens/internal/archive"
	"github.com/yourusername/repolens/internal/config"
	"github.com/yourusername/repolens/internal/db"
	"github.com/yourusername/repolens/internal/github"
	"github.com/yourusername/repolens/internal/limiter"
	"github.com/yourusername/repolens/internal/llm"
	"github.com/yourusername/repolens/internal/notify"
	"github.com/yourusername/repolens/internal/pipeline"
	"github.com/yourusername/repolens/internal/scheduler"
	"github.com/yourusername/repolens/internal/telegram"
	"github.com/yourusername/repolens/internal/tokenizer"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()

	var err error
	switch os.Args[1] {
	case "search":
		err = runSearch(cfg, os.Args[2:])
	case "download":
		err = runDownload(cfg, os.Args[2:])
	case "analyze":
		err = runAnalyze(cfg, os.Args[2:])
	case "watch":
		err = runWatch(cfg, os.Args[2:])
	case "version", "--version":
		fmt.Println("repolens", Version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("repolens %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `repolens %s — repository discovery and LLM analysis

Usage:
  repolens search  <preset> <output.json>    discover repositories (presets: %s; or -dep/-snippet)
  repolens download <repos.json> <n> <dir>   download and extract the top n repositories
  repolens analyze <dir> <target-dep> <system-prompt-file>
                                             summarize programs declaring target-dep
  repolens watch   -cron <expr> <preset> <output.json>
                                             re-run discovery on a cron schedule
`, Version, strings.Join(presetNames(), "|"))
}

func presetNames() []string {
	names := make([]string, 0, len(github.Presets))
	for name := range github.Presets {
		names = append(names, name)
	}
	return names
}

// resolvePreset maps a preset name or custom -dep/-snippet flags to a search.
func resolvePreset(name, dep, snippet, label string) (github.Preset, error) {
	if dep != "" || snippet != "" {
		if dep == "" || snippet == "" {
			return github.Preset{}, fmt.Errorf("custom searches need both -dep and -snippet")
		}
		if label == "" {
			label = "custom"
		}
		return github.Preset{DepQuery: dep + " filename:Cargo.toml", Snippet: snippet, Label: label}, nil
	}
	preset, ok := github.Presets[name]
	if !ok {
		return github.Preset{}, fmt.Errorf("unknown preset %q (have: %s)", name, strings.Join(presetNames(), ", "))
	}
	return preset, nil
}

func runSearch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	dep := fs.String("dep", "", "custom dependency to search for in Cargo.toml")
	snippet := fs.String("snippet", "", "custom code snippet confirming a match")
	label := fs.String("label", "", "label for custom searches")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: repolens search <preset> <output.json>")
	}
	presetName := ""
	outPath := rest[len(rest)-1]
	if len(rest) == 2 {
		presetName = rest[0]
	}

	if err := cfg.RequireGitHub(); err != nil {
		return err
	}
	preset, err := resolvePreset(presetName, *dep, *snippet, *label)
	if err != nil {
		return err
	}

	ctx := context.Background()
	searcher := github.NewSearcher(cfg.GitHubToken)
	repos, err := searcher.FindProgramRepos(ctx, preset)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(repos, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	log.Printf("Found %d %s repositories, saved to %s", len(repos), preset.Label, outPath)

	// Persist into the database too, so watch mode can diff over time.
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}
	if err := database.SaveRepos(ctx, strings.ToLower(preset.Label), repos); err != nil {
		return err
	}

	for i, repo := range repos {
		if i >= 10 {
			break
		}
		log.Printf("  - %s (%d stars)", repo.Name, repo.Stars)
	}
	return nil
}

func runDownload(cfg *config.Config, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: repolens download <repos.json> <n> <output-dir>")
	}
	if err := cfg.RequireGitHub(); err != nil {
		return err
	}

	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("entry count must be a positive integer, got %q", args[1])
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read repo list: %w", err)
	}
	var repos []db.Repo
	if err := json.Unmarshal(data, &repos); err != nil {
		return fmt.Errorf("parse repo list: %w", err)
	}

	downloader := archive.NewDownloader(cfg.GitHubToken)
	ok, failed := downloader.DownloadAll(context.Background(), repos, n, args[2])
	log.Printf("Download complete: %d succeeded, %d failed", ok, failed)
	if failed > 0 {
		return fmt.Errorf("%d downloads failed", failed)
	}
	return nil
}

func runAnalyze(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	excludeDep := fs.String("exclude-dependency", "", "skip packages declaring this dependency")
	maxConcurrent := fs.Int("max-concurrent", cfg.MaxConcurrent, "maximum concurrent jobs")
	tokensPerMinute := fs.Int("tokens-per-minute", cfg.TokensPerMinute, "token budget per rolling minute")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 3 {
		return fmt.Errorf("usage: repolens analyze <dir> <target-dep> <system-prompt-file>")
	}
	root, targetDep, promptPath := rest[0], rest[1], rest[2]

	if err := cfg.RequireLLM(); err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	systemPrompt, err := os.ReadFile(promptPath)
	if err != nil {
		return fmt.Errorf("read system prompt: %w", err)
	}

	log.Printf("repolens %s: analyzing %s (dependency %q)", Version, root, targetDep)
	log.Printf("Config: model=%s maxConcurrent=%d tokensPerMinute=%d",
		cfg.LLMModel, *maxConcurrent, *tokensPerMinute)

	// ── 1. Database (summary cache + usage records) ─────────────────────────
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	// ── 2. Telegram notifications (optional) ────────────────────────────────
	bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Printf("Telegram init error (continuing without Telegram): %v", err)
	}
	notifier := notify.New(telegramSender(bot))

	// ── 3. Token budget: estimator, rolling-window limiter, governor ────────
	estimator := tokenizer.ForModel(cfg.LLMModel)
	window := limiter.New(*tokensPerMinute)
	governor := tokenizer.NewGovernor(database, notifier, cfg.DailyTokenLimit)

	// ── 4. LLM client + job runner ──────────────────────────────────────────
	client := llm.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	runner := analyze.NewRunner(cacheStore{database}, window, estimator, client)

	// ── 5. Run the batch ────────────────────────────────────────────────────
	p := &pipeline.Pipeline{
		Runner:        runner,
		Governor:      governor,
		Notify:        notifier,
		SystemPrompt:  strings.TrimSpace(string(systemPrompt)),
		MaxConcurrent: *maxConcurrent,
	}
	sum, err := p.Run(context.Background(), root, targetDep, *excludeDep)
	if err != nil {
		return err
	}

	log.Printf("Total programs successfully analyzed: %d", len(sum.ReportsWritten))
	return nil
}

func runWatch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cronExpr := fs.String("cron", "0 3 * * *", "cron expression for discovery refreshes")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: repolens watch -cron <expr> <preset> <output.json>")
	}

	if err := cfg.RequireGitHub(); err != nil {
		return err
	}
	if _, err := resolvePreset(rest[0], "", "", ""); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := scheduler.New()
	err := engine.Start(ctx, *cronExpr, func(ctx context.Context) {
		if err := runSearch(cfg, rest); err != nil {
			log.Printf("watch: refresh failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	log.Printf("repolens watching (cron %q) — Ctrl+C to stop", *cronExpr)
	<-ctx.Done()
	log.Printf("repolens stopped.")
	return nil
}

// cacheStore adapts db.DB to the analyze.Cache interface.
type cacheStore struct {
	db *db.DB
}

func (c cacheStore) Get(ctx context.Context, key string) (string, error) {
	return c.db.CacheGet(ctx, key)
}

func (c cacheStore) Put(ctx context.Context, key, kind, content string) error {
	return c.db.CachePut(ctx, key, kind, content)
}

// telegramSender wraps *telegram.Bot to implement notify.Sender.
// Returns nil if bot is nil (Telegram disabled).
func telegramSender(bot *telegram.Bot) notify.Sender {
	if bot == nil {
		return nil
	}
	return bot
}
