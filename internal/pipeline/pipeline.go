// Package pipeline orchestrates a full analysis batch: scan programs,
// summarize every source file, then synthesize per-package reports.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/repolens/internal/analyze"
	"github.com/yourusername/repolens/internal/llm"
	"github.com/yourusername/repolens/internal/notify"
	"github.com/yourusername/repolens/internal/progress"
	"github.com/yourusername/repolens/internal/report"
	"github.com/yourusername/repolens/internal/scan"
	"github.com/yourusername/repolens/internal/tokenizer"
)

// Response allowances reserved on top of the request estimate.
const (
	fileSummaryTokens   = 500
	packageReportTokens = 1500
)

// Pipeline wires the analysis stages together. Governor and Notify may be
// nil (accounting and notifications disabled).
type Pipeline struct {
	Runner        *analyze.Runner
	Governor      *tokenizer.Governor
	Notify        *notify.Dispatcher
	SystemPrompt  string
	MaxConcurrent int
}

// Summary is the outcome of one batch run.
type Summary struct {
	Programs       int
	FilesAnalyzed  int
	ReportsWritten []string
	Succeeded      int
	Failed         int
	Failures       []string
}

// fileSummary pairs a source file with its generated summary.
type fileSummary struct {
	Path string
	Text string
}

// Run analyzes every matching program under root and writes one markdown
// document per repository next to the downloads. Individual job failures
// never abort the batch.
func (p *Pipeline) Run(ctx context.Context, root, targetDep, excludeDep string) (*Summary, error) {
	programs, err := scan.FindPrograms(root, targetDep, excludeDep)
	if err != nil {
		return nil, fmt.Errorf("pipeline.Run: %w", err)
	}
	if len(programs) == 0 {
		log.Printf("pipeline: no programs found with %q dependency", targetDep)
		return &Summary{}, nil
	}
	log.Printf("pipeline: %d programs to analyze", len(programs))

	sum := &Summary{Programs: len(programs)}

	// Phase 1: one job per source file.
	fileJobs, owners := p.buildFileJobs(programs)
	sum.FilesAnalyzed = len(fileJobs)

	bar := progress.New(len(fileJobs), "Summarizing files")
	p.Runner.Progress = bar.Tick
	fileResults := p.Runner.RunAll(ctx, fileJobs, p.MaxConcurrent)
	bar.Finish()

	summaries := make(map[int][]fileSummary) // program index → its summaries
	for i, res := range fileResults {
		p.account(ctx, fileJobs[i], res, sum)
		if res.OK() {
			owner := owners[i]
			summaries[owner] = append(summaries[owner], fileSummary{Path: fileJobs[i].Path, Text: res.Text})
		}
	}

	// Phase 2: one report per program that produced any summaries.
	reportJobs, reportOwners := p.buildReportJobs(programs, summaries)

	bar = progress.New(len(reportJobs), "Generating reports")
	p.Runner.Progress = bar.Tick
	reportResults := p.Runner.RunAll(ctx, reportJobs, p.MaxConcurrent)
	bar.Finish()

	var reports []report.ProgramReport
	for i, res := range reportResults {
		p.account(ctx, reportJobs[i], res, sum)
		if res.OK() {
			prog := programs[reportOwners[i]]
			reports = append(reports, report.ProgramReport{
				RepoName:     prog.RepoName,
				ManifestPath: prog.ManifestPath,
				Report:       res.Text,
			})
		}
	}

	// Assemble one markdown document per repository.
	names, byRepo := report.GroupByRepo(reports)
	for _, name := range names {
		path := filepath.Join(root, name+".md")
		md := report.RepoMarkdown(name, byRepo[name])
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			log.Printf("pipeline: write %s: %v", path, err)
			continue
		}
		sum.ReportsWritten = append(sum.ReportsWritten, path)
		log.Printf("pipeline: created %s (%d programs)", path, len(byRepo[name]))
	}

	text := report.BatchSummary(sum.Succeeded, sum.Failed, sum.Failures)
	log.Printf("pipeline: %s", text)
	if p.Notify != nil {
		p.Notify.SendTelegram(text)
	}
	return sum, nil
}

// buildFileJobs turns every readable source file into a summary job.
// owners maps job index → program index.
func (p *Pipeline) buildFileJobs(programs []scan.Program) (jobs []analyze.Job, owners []int) {
	for pIdx, prog := range programs {
		for _, src := range prog.SourceFiles {
			content, err := os.ReadFile(src)
			if err != nil {
				log.Printf("pipeline: read %s: %v", src, err)
				continue
			}
			rel, err := filepath.Rel(prog.Dir, src)
			if err != nil {
				rel = filepath.Base(src)
			}
			rel = filepath.ToSlash(rel)

			jobs = append(jobs, analyze.Job{
				Kind:              analyze.KindFileSummary,
				CacheKey:          cacheKey(prog.RepoName, prog.Package, rel),
				Messages:          p.messages(filePrompt(rel, string(content))),
				MaxResponseTokens: fileSummaryTokens,
				Repo:              prog.RepoName,
				Package:           prog.Package,
				Path:              rel,
			})
			owners = append(owners, pIdx)
		}
	}
	return jobs, owners
}

// buildReportJobs creates one package-report job per program with summaries.
func (p *Pipeline) buildReportJobs(programs []scan.Program, summaries map[int][]fileSummary) (jobs []analyze.Job, owners []int) {
	for pIdx, prog := range programs {
		sums := summaries[pIdx]
		if len(sums) == 0 {
			continue
		}

		depsJSON, err := json.MarshalIndent(prog.Dependencies, "", "  ")
		if err != nil {
			depsJSON = []byte("{}")
		}

		jobs = append(jobs, analyze.Job{
			Kind:              analyze.KindPackageReport,
			CacheKey:          cacheKey(prog.RepoName, prog.Package, "report"),
			Messages:          p.messages(reportPrompt(prog.ManifestPath, prog.Package, string(depsJSON), sums)),
			MaxResponseTokens: packageReportTokens,
			Repo:              prog.RepoName,
			Package:           prog.Package,
		})
		owners = append(owners, pIdx)
	}
	return jobs, owners
}

// account folds one job result into the batch summary and usage records.
func (p *Pipeline) account(ctx context.Context, job analyze.Job, res analyze.Result, sum *Summary) {
	if res.Err != nil {
		sum.Failed++
		sum.Failures = append(sum.Failures, fmt.Sprintf("%s: %v", job.CacheKey, res.Err))
		return
	}
	sum.Succeeded++
	if p.Governor != nil && !res.Cached {
		if err := p.Governor.RecordUsage(ctx, job.Repo, job.Package, res.EstimatedTokens, res.Waited); err != nil {
			log.Printf("pipeline: record usage: %v", err)
		}
	}
}

func (p *Pipeline) messages(userPrompt string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.SystemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}
}

// cacheKey builds the stable cache identity for a job.
func cacheKey(repo, pkg, path string) string {
	safe := strings.ReplaceAll(path, "/", "_")
	return fmt.Sprintf("%s-%s-%s", repo, pkg, safe)
}

func filePrompt(relPath, content string) string {
	return fmt.Sprintf(`File path: %s

File contents:
`+"```rust\n%s\n```"+`

Please provide a concise summary of this Rust file's purpose and functionality.`, relPath, content)
}

func reportPrompt(manifestPath, pkgName, depsJSON string, sums []fileSummary) string {
	var files strings.Builder
	for i, s := range sums {
		if i > 0 {
			files.WriteString("\n\n")
		}
		fmt.Fprintf(&files, "**File: %s**\n%s", s.Path, s.Text)
	}

	return fmt.Sprintf(`Program: %s

Dependencies:
`+"```json\n%s\n```"+`

File Summaries:
%s

Please provide a concise report about this program package called %s, including:
1. File tree diagram with a concise in-line one-liner comment stating each file's purpose
   (the root path in the tree should be %s)
2. Dependency list with a concise one-liner comment stating the dependency's purpose
3. Concise summary of the package and what it does
4. Any notable features or implementation details`,
		manifestPath, depsJSON, files.String(), pkgName, pkgName)
}
