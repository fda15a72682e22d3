// Package archive fetches remote package bundles and unpacks them into an
// instance's directory tree. It is shared by game-file provisioning and the
// plugin pipeline.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// Sentinel errors for archive operations.
var (
	// ErrFetchFailed is returned when the download fails or yields an
	// empty body.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrExtractFailed is returned when the downloaded archive is corrupt
	// or unreadable.
	ErrExtractFailed = errors.New("extract failed")
)

// defaultFetchTimeout bounds a single package download.
const defaultFetchTimeout = 5 * time.Minute

// Installer downloads zip bundles and extracts them in place.
type Installer struct {
	client *http.Client
}

// New creates an Installer with a bounded default HTTP client.
func New() *Installer {
	return &Installer{client: &http.Client{Timeout: defaultFetchTimeout}}
}

// NewWithClient creates an Installer using the given HTTP client.
// Used by tests and callers that need custom transport settings.
func NewWithClient(client *http.Client) *Installer {
	return &Installer{client: client}
}

// FetchAndExtract downloads the archive at sourceURL to a temporary file
// inside targetDir and extracts its full contents into targetDir,
// overwriting existing files. The temporary file is removed on every exit
// path. Partial extraction on failure is possible; a leftover archive is not.
func (i *Installer) FetchAndExtract(ctx context.Context, sourceURL, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	tmp, err := os.CreateTemp(targetDir, ".fleet-download-*.zip")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // scoped cleanup, best-effort

	if err := i.download(ctx, sourceURL, tmp); err != nil {
		tmp.Close() //nolint:errcheck,gosec // closing before removal
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary archive: %w", err)
	}

	return extractZip(tmpPath, targetDir)
}

// download streams the response body for sourceURL into dst.
func (i *Installer) download(ctx context.Context, sourceURL string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %s", ErrFetchFailed, sourceURL, resp.Status)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: empty body from %s", ErrFetchFailed, sourceURL)
	}
	return nil
}

// extractZip unpacks archivePath into targetDir, overwriting existing files.
// Entry names are containment-checked so a crafted archive cannot write
// outside targetDir.
func extractZip(archivePath, targetDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}
	defer reader.Close() //nolint:errcheck // read-only archive

	for _, file := range reader.File {
		if err := extractEntry(file, targetDir); err != nil {
			return err
		}
	}
	return nil
}

// extractEntry writes a single archive entry under targetDir.
func extractEntry(file *zip.File, targetDir string) error {
	dest := filepath.Clean(filepath.Join(targetDir, file.Name)) //nolint:gosec // G305: containment checked below

	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: entry %q escapes target directory", ErrExtractFailed, file.Name)
	}

	if file.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0o750); err != nil {
			return fmt.Errorf("%w: create directory %s: %v", ErrExtractFailed, file.Name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("%w: create parent directory for %s: %v", ErrExtractFailed, file.Name, err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrExtractFailed, file.Name, err)
	}
	defer src.Close() //nolint:errcheck // read-only entry

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // G304: dest passed containment above
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrExtractFailed, file.Name, err)
	}

	if _, err := io.Copy(out, src); err != nil { //nolint:gosec // G110: bundle sizes are bounded by upstream releases
		out.Close() //nolint:errcheck,gosec // error path
		return fmt.Errorf("%w: write %s: %v", ErrExtractFailed, file.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrExtractFailed, file.Name, err)
	}
	return nil
}
