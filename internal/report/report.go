// Package report assembles analysis results into markdown documents.
package report

import (
	"fmt"
	"sort"
	"strings"
)

// ProgramReport is one analyzed package ready for assembly.
type ProgramReport struct {
	RepoName     string
	ManifestPath string
	Report       string
}

// RepoMarkdown renders the per-repository document from its program reports.
func RepoMarkdown(repoName string, programs []ProgramReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s - Program Analysis\n\n", repoName)

	for _, p := range programs {
		fmt.Fprintf(&b, "## %s\n\n", p.ManifestPath)
		b.WriteString(p.Report)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

// GroupByRepo buckets program reports by repository, repo names sorted.
func GroupByRepo(programs []ProgramReport) (names []string, byRepo map[string][]ProgramReport) {
	byRepo = make(map[string][]ProgramReport)
	for _, p := range programs {
		byRepo[p.RepoName] = append(byRepo[p.RepoName], p)
	}
	for name := range byRepo {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, byRepo
}

// BatchSummary renders the end-of-run summary: success and failure counts
// plus individual failure reasons for diagnostics.
func BatchSummary(succeeded, failed int, reasons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch complete: %d succeeded, %d failed", succeeded, failed)
	if len(reasons) > 0 {
		b.WriteString("\nFailures:")
		for _, r := range reasons {
			b.WriteString("\n  - ")
			b.WriteString(r)
		}
	}
	return b.String()
}
