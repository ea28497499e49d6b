// Package workspace materializes job sources on disk and ships build
// artifacts back out. A job's workspace lives under the configured
// root, keyed by job id, and is removed when the pipeline finishes.
package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
)

// Manager creates, populates and tears down per-job workspaces.
type Manager struct {
	root   string
	client *http.Client
}

// NewManager creates a Manager rooted at dir. The directory is
// created on demand.
func NewManager(root string) *Manager {
	return &Manager{
		root:   root,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Path returns the workspace directory for a job id.
func (m *Manager) Path(jobID string) string {
	return filepath.Join(m.root, jobID)
}

// Create makes a fresh workspace directory for the job, removing any
// leftover from a previous run with the same id.
func (m *Manager) Create(jobID string) (string, error) {
	dir := m.Path(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to remove existing workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes the job's workspace.
func (m *Manager) Remove(jobID string) {
	if err := os.RemoveAll(m.Path(jobID)); err != nil {
		slog.Warn("Failed to remove workspace", logfields.JobID(jobID), logfields.Error(err))
	}
}

// FetchArchive downloads a zip archive into the workspace and extracts
// it, returning the directory holding the project tree. Archives that
// wrap everything in a single top-level directory (the GitHub tarball
// convention) are flattened to that directory.
func (m *Manager) FetchArchive(ctx context.Context, jobID, url string) (string, error) {
	dir := m.Path(jobID)
	archivePath := filepath.Join(dir, "source.zip")

	slog.Debug("Downloading source archive", logfields.JobID(jobID), slog.String("url", url))
	if err := m.download(ctx, url, archivePath); err != nil {
		return "", foundation.NewError(foundation.ErrorCodeExternal, "failed to download source archive").
			WithCause(err).WithComponent("workspace").WithOperation("fetch_archive").Build()
	}

	extractDir := filepath.Join(dir, "source")
	if err := extractZip(archivePath, extractDir); err != nil {
		return "", foundation.NewError(foundation.ErrorCodeExternal, "failed to extract source archive").
			WithCause(err).WithComponent("workspace").WithOperation("fetch_archive").Build()
	}
	if err := os.Remove(archivePath); err != nil {
		slog.Warn("Failed to remove downloaded archive", logfields.JobID(jobID), logfields.Error(err))
	}
	return flattenSingleDir(extractDir), nil
}

// FetchGit clones a repository into the workspace. An empty ref clones
// the default branch.
func (m *Manager) FetchGit(ctx context.Context, jobID, url, ref string) (string, error) {
	repoPath := filepath.Join(m.Path(jobID), "source")
	slog.Debug("Cloning repository", logfields.JobID(jobID), slog.String("url", url), slog.String("ref", ref))

	opts := &git.CloneOptions{URL: url, Depth: 1}
	if ref != "" {
		opts.ReferenceName = plumbing.ReferenceName("refs/heads/" + ref)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, repoPath, false, opts); err != nil {
		return "", foundation.NewError(foundation.ErrorCodeExternal,
			fmt.Sprintf("failed to clone repository %s", url)).
			WithCause(err).WithComponent("workspace").WithOperation("fetch_git").Build()
	}
	return repoPath, nil
}

func (m *Manager) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Close()
}

// flattenSingleDir descends into dir as long as it contains exactly
// one entry and that entry is a directory.
func flattenSingleDir(dir string) string {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) != 1 || !entries[0].IsDir() {
			return dir
		}
		dir = filepath.Join(dir, entries[0].Name())
	}
}
