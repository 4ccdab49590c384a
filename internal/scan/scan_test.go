package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const manifestWithTarget = `
[package]
name = "demo"
version = "0.1.0"

[dependencies]
stylus-sdk = "0.6"
alloy-primitives = { version = "0.7", default-features = false }
`

const manifestWithBoth = `
[dependencies]
stylus-sdk = "0.6"
openzeppelin-stylus = "0.1"
`

func TestFindPrograms_FiltersByDependency(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "0-acme-vault", "Cargo.toml"), manifestWithTarget)
	writeFile(t, filepath.Join(root, "0-acme-vault", "src", "lib.rs"), "// entry")
	writeFile(t, filepath.Join(root, "0-acme-vault", "src", "math.rs"), "// math")
	writeFile(t, filepath.Join(root, "1-other-repo", "Cargo.toml"), `
[dependencies]
serde = "1"
`)

	programs, err := FindPrograms(root, "stylus-sdk", "")
	require.NoError(t, err)
	require.Len(t, programs, 1)

	p := programs[0]
	assert.Equal(t, "0-acme-vault", p.RepoName)
	assert.Equal(t, "root", p.Package)
	assert.Contains(t, p.Dependencies, "stylus-sdk")
	require.Len(t, p.SourceFiles, 2)
	assert.Equal(t, "lib.rs", filepath.Base(p.SourceFiles[0]))
	assert.Equal(t, "math.rs", filepath.Base(p.SourceFiles[1]))
}

func TestFindPrograms_ExcludeDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0-a-b", "Cargo.toml"), manifestWithBoth)
	writeFile(t, filepath.Join(root, "1-c-d", "Cargo.toml"), manifestWithTarget)

	programs, err := FindPrograms(root, "stylus-sdk", "openzeppelin-stylus")
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "1-c-d", programs[0].RepoName)
}

func TestFindPrograms_NestedPackagesAndSkipDirs(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "0-org-mono")
	writeFile(t, filepath.Join(repo, "contracts", "vault", "Cargo.toml"), manifestWithTarget)
	writeFile(t, filepath.Join(repo, "contracts", "vault", "src", "lib.rs"), "//")
	// target/ output must never be scanned.
	writeFile(t, filepath.Join(repo, "target", "debug", "Cargo.toml"), manifestWithTarget)

	programs, err := FindPrograms(root, "stylus-sdk", "")
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "contracts_vault", programs[0].Package)
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "root", PackageName("/r/Cargo.toml", "/r"))
	assert.Equal(t, "programs_escrow", PackageName("/r/programs/escrow/Cargo.toml", "/r"))
}

func TestFindPrograms_MalformedManifestSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0-bad-toml", "Cargo.toml"), "not [ valid toml ===")
	writeFile(t, filepath.Join(root, "1-good", "Cargo.toml"), manifestWithTarget)

	programs, err := FindPrograms(root, "stylus-sdk", "")
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "1-good", programs[0].RepoName)
}
