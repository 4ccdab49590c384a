// Package db provides the SQLite store for repolens: the summary cache,
// discovered repositories, and token usage records.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps *sql.DB and provides migration support.
type DB struct {
	*sql.DB
}

// New opens a SQLite connection with WAL mode and foreign keys enabled.
// Driver name is "sqlite" (modernc.org/sqlite, not mattn/go-sqlite3).
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_journal=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("db.New: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("db.New: ping: %w", err)
	}
	// Limit to 1 writer at a time to avoid SQLITE_BUSY in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	return &DB{sqlDB}, nil
}

const schemaVersion = 1

// Migrate runs all CREATE TABLE IF NOT EXISTS migrations exactly once per schema version.
func (d *DB) Migrate() error {
	// Ensure the settings table exists first (holds schema_version).
	if _, err := d.Exec(ddlSettings); err != nil {
		return fmt.Errorf("db.Migrate: settings table: %w", err)
	}

	var version int
	row := d.QueryRow(`SELECT value FROM settings WHERE key='schema_version' LIMIT 1`)
	_ = row.Scan(&version) // Ignore scan error — row may not exist yet (version=0).

	if version >= schemaVersion {
		return nil
	}

	for _, ddl := range []string{ddlSummaries, ddlRepos, ddlTokenUsage} {
		if _, err := d.Exec(ddl); err != nil {
			return fmt.Errorf("db.Migrate: %w", err)
		}
	}

	_, err := d.Exec(`INSERT INTO settings (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("db.Migrate: schema_version upsert: %w", err)
	}
	return nil
}

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS summaries (
	cache_key  TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

const ddlRepos = `
CREATE TABLE IF NOT EXISTS repos (
	name        TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	stars       INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	pushed_at   TEXT NOT NULL DEFAULT '',
	preset      TEXT NOT NULL DEFAULT '',
	found_at    TIMESTAMP NOT NULL
)`

const ddlTokenUsage = `
CREATE TABLE IF NOT EXISTS token_usage (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	repo             TEXT NOT NULL,
	package          TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	waited_ms        INTEGER NOT NULL DEFAULT 0,
	date             TEXT NOT NULL
)`

// ── Model Types ──────────────────────────────────────────────────────────────

// Repo is one discovered repository. JSON tags match the search output file.
type Repo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Stars       int    `json:"stars"`
	Description string `json:"description"`
	PushedAt    string `json:"last_commit"`
}

// ── Summary cache ────────────────────────────────────────────────────────────

// CacheGet returns the cached content for a key, or "" when absent.
func (d *DB) CacheGet(ctx context.Context, key string) (string, error) {
	var content string
	err := d.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE cache_key=?`, key,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("db.CacheGet: %w", err)
	}
	return content, nil
}

// CachePut stores content under a key. Last write wins on key collision.
func (d *DB) CachePut(ctx context.Context, key, kind, content string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO summaries (cache_key, kind, content, created_at) VALUES (?,?,?,?)
		ON CONFLICT(cache_key) DO UPDATE SET kind=excluded.kind, content=excluded.content,
			created_at=excluded.created_at`,
		key, kind, content, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("db.CachePut: %w", err)
	}
	return nil
}

// ── Repo store ───────────────────────────────────────────────────────────────

// SaveRepos upserts discovery results under a preset label.
func (d *DB) SaveRepos(ctx context.Context, preset string, repos []Repo) error {
	for _, r := range repos {
		_, err := d.ExecContext(ctx, `
			INSERT INTO repos (name, url, stars, description, pushed_at, preset, found_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(name) DO UPDATE SET url=excluded.url, stars=excluded.stars,
				description=excluded.description, pushed_at=excluded.pushed_at,
				preset=excluded.preset, found_at=excluded.found_at`,
			r.Name, r.URL, r.Stars, r.Description, r.PushedAt, preset, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("db.SaveRepos: %s: %w", r.Name, err)
		}
	}
	return nil
}

// ListRepos returns stored repos for a preset, highest stars first.
func (d *DB) ListRepos(ctx context.Context, preset string) ([]Repo, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT name, url, stars, description, pushed_at FROM repos
		WHERE preset=? ORDER BY stars DESC, pushed_at DESC`, preset)
	if err != nil {
		return nil, fmt.Errorf("db.ListRepos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.Name, &r.URL, &r.Stars, &r.Description, &r.PushedAt); err != nil {
			return nil, fmt.Errorf("db.ListRepos: scan: %w", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db.ListRepos: rows: %w", err)
	}
	return repos, nil
}
