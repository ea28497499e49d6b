package workspace

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// extractZip unpacks archive into destDir, refusing entries that would
// escape the destination.
func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", entry.Name)
	}
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, entry.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// PackageArtifact zips the built binary into artifact.zip next to the
// workspace and returns the zip path. The binary keeps its base name
// inside the archive.
func (m *Manager) PackageArtifact(jobID, binaryPath string) (string, error) {
	zipPath := filepath.Join(m.Path(jobID), "artifact.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	src, err := os.Open(binaryPath)
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to open artifact %s: %w", binaryPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		zw.Close()
		return "", err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		zw.Close()
		return "", err
	}
	header.Name = filepath.Base(binaryPath)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		zw.Close()
		return "", err
	}
	if _, err := io.Copy(w, src); err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to write artifact archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return zipPath, f.Close()
}

// UploadMeta carries the identity query parameters attached to an
// artifact upload.
type UploadMeta struct {
	Owner          string
	Repo           string
	HeadSHA        string
	InstallationID string
	CustomerName   string
}

// UploadArtifact posts the artifact archive to uploadURL with the job
// identity encoded as query parameters.
func (m *Manager) UploadArtifact(ctx context.Context, uploadURL, artifactPath string, meta UploadMeta) error {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	u, err := url.Parse(uploadURL)
	if err != nil {
		return foundation.NewError(foundation.ErrorCodeValidation, "invalid upload URL").
			WithCause(err).WithComponent("workspace").Build()
	}
	q := u.Query()
	q.Set("owner", meta.Owner)
	q.Set("repo", meta.Repo)
	q.Set("head_sha", meta.HeadSHA)
	q.Set("installation_id", meta.InstallationID)
	if meta.CustomerName != "" {
		q.Set("customer_name", meta.CustomerName)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/zip")

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return foundation.NewError(foundation.ErrorCodeExternal, "artifact upload failed").
			WithCause(err).WithComponent("workspace").WithOperation("upload_artifact").Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return foundation.NewError(foundation.ErrorCodeExternal,
			fmt.Sprintf("artifact upload rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithComponent("workspace").WithOperation("upload_artifact").Build()
	}
	return nil
}
