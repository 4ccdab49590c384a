package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "repolens_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return database
}

func TestMigrate_Idempotent(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.Migrate())
	require.NoError(t, database.Migrate())
}

func TestCache_GetPut(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	// Missing key is an empty-string miss, not an error.
	got, err := database.CacheGet(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	require.NoError(t, database.CachePut(ctx, "repo-root-lib.rs", "file_summary", "A vault library."))
	got, err = database.CacheGet(ctx, "repo-root-lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "A vault library.", got)

	// Same key again: last write wins.
	require.NoError(t, database.CachePut(ctx, "repo-root-lib.rs", "file_summary", "Updated."))
	got, err = database.CacheGet(ctx, "repo-root-lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "Updated.", got)
}

func TestRepos_SaveAndList(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	repos := []Repo{
		{Name: "acme/vault", URL: "https://github.com/acme/vault", Stars: 12, PushedAt: "2025-05-01T00:00:00Z"},
		{Name: "zeta/escrow", URL: "https://github.com/zeta/escrow", Stars: 99, Description: "escrow program"},
	}
	require.NoError(t, database.SaveRepos(ctx, "stylus", repos))

	got, err := database.ListRepos(ctx, "stylus")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zeta/escrow", got[0].Name, "highest stars first")

	// Re-saving the same repo updates in place rather than duplicating.
	repos[0].Stars = 500
	require.NoError(t, database.SaveRepos(ctx, "stylus", repos[:1]))
	got, err = database.ListRepos(ctx, "stylus")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "acme/vault", got[0].Name)
	assert.Equal(t, 500, got[0].Stars)

	// Other presets are not visible.
	other, err := database.ListRepos(ctx, "anchor")
	require.NoError(t, err)
	assert.Empty(t, other)
}
