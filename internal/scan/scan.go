// Package scan locates Cargo packages under a downloads tree and filters
// them by dependency.
package scan

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Directories never worth descending into.
var skipDirs = map[string]bool{
	".git":         true,
	"target":       true,
	"node_modules": true,
}

// Program is one Cargo package selected for analysis.
type Program struct {
	RepoName     string
	Package      string
	ManifestPath string
	Dir          string
	Dependencies map[string]interface{}
	SourceFiles  []string // .rs files under Dir, sorted
}

// cargoManifest is the subset of Cargo.toml we read.
type cargoManifest struct {
	Dependencies map[string]interface{} `toml:"dependencies"`
}

// FindPrograms scans every top-level directory of root (one per downloaded
// repository) for Cargo packages that declare targetDep and, when given,
// do not declare excludeDep.
func FindPrograms(root, targetDep, excludeDep string) ([]Program, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan.FindPrograms: %w", err)
	}

	var programs []Program
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		repoDir := filepath.Join(root, e.Name())
		manifests, err := findManifests(repoDir)
		if err != nil {
			return nil, err
		}

		for _, manifest := range manifests {
			deps, err := readDependencies(manifest)
			if err != nil {
				// A malformed manifest disqualifies that package only.
				log.Printf("scan: %s: %v", manifest, err)
				continue
			}
			if _, ok := deps[targetDep]; !ok {
				continue
			}
			if excludeDep != "" {
				if _, ok := deps[excludeDep]; ok {
					continue
				}
			}

			dir := filepath.Dir(manifest)
			programs = append(programs, Program{
				RepoName:     e.Name(),
				Package:      PackageName(manifest, repoDir),
				ManifestPath: manifest,
				Dir:          dir,
				Dependencies: deps,
				SourceFiles:  sourceFiles(dir),
			})
		}
	}
	return programs, nil
}

// findManifests returns every Cargo.toml under dir.
func findManifests(dir string) ([]string, error) {
	var manifests []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable subtree: skip, keep walking.
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == "Cargo.toml" {
			manifests = append(manifests, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan.findManifests: %s: %w", dir, err)
	}
	return manifests, nil
}

// readDependencies parses the [dependencies] table of a Cargo.toml.
func readDependencies(path string) (map[string]interface{}, error) {
	var m cargoManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Dependencies == nil {
		return map[string]interface{}{}, nil
	}
	return m.Dependencies, nil
}

// PackageName derives a stable package name from the manifest path relative
// to the repo root: path separators become underscores, the root is "root".
func PackageName(manifest, repoRoot string) string {
	rel, err := filepath.Rel(repoRoot, filepath.Dir(manifest))
	if err != nil || rel == "." {
		return "root"
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")
}

// sourceFiles returns the .rs files under dir, sorted lexicographically.
func sourceFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".rs") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}
