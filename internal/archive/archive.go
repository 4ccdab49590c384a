// Package archive downloads and extracts GitHub repository tarballs.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/repolens/internal/db"
)

const (
	maxRetries     = 3
	baseBackoff    = 2 * time.Second
	extractWorkers = 4
)

// Downloader fetches repository tarballs via the GitHub API.
type Downloader struct {
	token  string
	client *http.Client
	sleep  func(time.Duration)
}

// NewDownloader creates a Downloader authenticated with token.
func NewDownloader(token string) *Downloader {
	return &Downloader{
		token:  token,
		client: &http.Client{Timeout: 5 * time.Minute},
		sleep:  time.Sleep,
	}
}

// DownloadAll fetches up to n repos into outDir, then extracts the tarballs
// in parallel. Already-extracted repos are skipped. Returns the number of
// successful and failed repositories.
func (d *Downloader) DownloadAll(ctx context.Context, repos []db.Repo, n int, outDir string) (ok, failed int) {
	if n > len(repos) {
		n = len(repos)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Printf("archive: mkdir %s: %v", outDir, err)
		return 0, n
	}

	type task struct{ tarPath, extractDir string }
	var tasks []task

	for idx, repo := range repos[:n] {
		owner, name, found := strings.Cut(repo.Name, "/")
		if !found {
			log.Printf("archive: malformed repo name %q", repo.Name)
			failed++
			continue
		}
		tarPath := filepath.Join(outDir, fmt.Sprintf("%d-%s.%s.tar.gz", idx, owner, name))
		extractDir := filepath.Join(outDir, fmt.Sprintf("%d-%s-%s", idx, owner, name))

		log.Printf("archive: [%d/%d] %s", idx+1, n, repo.Name)

		if _, err := os.Stat(extractDir); err == nil {
			log.Printf("archive: %s already extracted, skipping", repo.Name)
			ok++
			continue
		}
		if _, err := os.Stat(tarPath); err == nil {
			log.Printf("archive: tarball exists, will extract")
			tasks = append(tasks, task{tarPath, extractDir})
			ok++
			continue
		}

		if err := d.downloadTarball(ctx, owner, name, tarPath); err != nil {
			log.Printf("archive: ✗ %s: %v", repo.Name, err)
			failed++
			continue
		}
		tasks = append(tasks, task{tarPath, extractDir})
		ok++
	}

	if len(tasks) > 0 {
		log.Printf("archive: extracting %d tarballs…", len(tasks))
		g := new(errgroup.Group)
		g.SetLimit(extractWorkers)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := Extract(t.tarPath, t.extractDir); err != nil {
					log.Printf("archive: extract %s: %v", t.tarPath, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return ok, failed
}

// downloadTarball fetches owner/name, trying the main branch then master,
// each with retries and exponential backoff.
func (d *Downloader) downloadTarball(ctx context.Context, owner, name, dest string) error {
	var lastErr error
	for _, branch := range []string{"main", "master"} {
		for attempt := 0; attempt < maxRetries; attempt++ {
			err := d.fetch(ctx, owner, name, branch, dest)
			if err == nil {
				log.Printf("archive: ✓ downloaded %s/%s (branch: %s)", owner, name, branch)
				return nil
			}
			lastErr = err
			if !retryable(err) {
				break // Try the next branch.
			}
			wait := baseBackoff * (1 << attempt)
			log.Printf("archive: %s/%s attempt %d/%d failed, retrying in %s: %v",
				owner, name, attempt+1, maxRetries, wait, err)
			d.sleep(wait)
		}
	}
	return fmt.Errorf("archive: neither main nor master worked for %s/%s: %w", owner, name, lastErr)
}

// fetch performs one tarball request and writes it to dest.
func (d *Downloader) fetch(ctx context.Context, owner, name, branch, dest string) error {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/tarball/%s", owner, name, branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (%d)", resp.StatusCode)
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := validDownload(dest); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

// retryable reports whether a download error is worth another attempt.
func retryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "rate limited") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset")
}

// validDownload sniffs the downloaded file for an error body in place of a
// tarball (GitHub serves "404: Not Found" as plain text for bad branches).
func validDownload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty download")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 100)
	n, _ := f.Read(head)
	if strings.Contains(string(head[:n]), "404: Not Found") {
		return fmt.Errorf("branch not found")
	}
	return nil
}

// Extract unpacks a .tar.gz into destDir and removes the tarball. GitHub
// tarballs wrap everything in a single root directory, which becomes
// destDir itself.
func Extract(tarPath, destDir string) error {
	tempDir := destDir + "_temp"
	if err := untar(tarPath, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return fmt.Errorf("archive.Extract: %w", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return fmt.Errorf("archive.Extract: %w", err)
	}

	moved := false
	for _, e := range entries {
		if e.IsDir() {
			if err := os.Rename(filepath.Join(tempDir, e.Name()), destDir); err != nil {
				return fmt.Errorf("archive.Extract: rename: %w", err)
			}
			moved = true
			break
		}
	}
	if moved {
		os.RemoveAll(tempDir)
	} else if err := os.Rename(tempDir, destDir); err != nil {
		return fmt.Errorf("archive.Extract: rename: %w", err)
	}

	os.Remove(tarPath)
	log.Printf("archive: ✓ extracted %s", filepath.Base(destDir))
	return nil
}

// untar streams a .tar.gz to disk, refusing entries that escape dir.
func untar(tarPath, dir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(dir, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and special files in untrusted tarballs are dropped.
		}
	}
}
