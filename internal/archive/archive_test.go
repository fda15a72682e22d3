package archive

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip assembles an in-memory zip archive from name -> content pairs.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// serveBytes starts a test server that responds with body to every request.
func serveBytes(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// noLeftovers asserts no temporary download file survived in dir.
func noLeftovers(t *testing.T, dir string) {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, ".fleet-download-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary archive left behind")
}

func TestInstaller_FetchAndExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("downloads and extracts into target directory", func(t *testing.T) {
		archive := buildZip(t, map[string]string{
			"addons/metamod.vdf":          "\"Metamod\" {}",
			"addons/metamod/bin/file.dll": "binary",
		})
		srv := serveBytes(t, http.StatusOK, archive)
		target := t.TempDir()

		err := New().FetchAndExtract(ctx, srv.URL, target)

		require.NoError(t, err)
		content, err := os.ReadFile(filepath.Join(target, "addons", "metamod.vdf"))
		require.NoError(t, err)
		assert.Equal(t, "\"Metamod\" {}", string(content))
		assert.FileExists(t, filepath.Join(target, "addons", "metamod", "bin", "file.dll"))
		noLeftovers(t, target)
	})

	t.Run("overwrites existing files", func(t *testing.T) {
		target := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(target, "plugin.cfg"), []byte("old"), 0o644))

		archive := buildZip(t, map[string]string{"plugin.cfg": "new"})
		srv := serveBytes(t, http.StatusOK, archive)

		require.NoError(t, New().FetchAndExtract(ctx, srv.URL, target))

		content, err := os.ReadFile(filepath.Join(target, "plugin.cfg"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(content))
	})

	t.Run("returns ErrFetchFailed on non-success status", func(t *testing.T) {
		srv := serveBytes(t, http.StatusNotFound, nil)
		target := t.TempDir()

		err := New().FetchAndExtract(ctx, srv.URL, target)

		assert.ErrorIs(t, err, ErrFetchFailed)
		noLeftovers(t, target)
	})

	t.Run("returns ErrFetchFailed on empty body", func(t *testing.T) {
		srv := serveBytes(t, http.StatusOK, nil)
		target := t.TempDir()

		err := New().FetchAndExtract(ctx, srv.URL, target)

		assert.ErrorIs(t, err, ErrFetchFailed)
		noLeftovers(t, target)
	})

	t.Run("returns ErrExtractFailed on corrupt archive", func(t *testing.T) {
		srv := serveBytes(t, http.StatusOK, []byte("this is not a zip file"))
		target := t.TempDir()

		err := New().FetchAndExtract(ctx, srv.URL, target)

		assert.ErrorIs(t, err, ErrExtractFailed)
		noLeftovers(t, target)
	})

	t.Run("rejects entries escaping the target directory", func(t *testing.T) {
		archive := buildZip(t, map[string]string{"../escape.txt": "gotcha"})
		srv := serveBytes(t, http.StatusOK, archive)
		target := t.TempDir()

		err := New().FetchAndExtract(ctx, srv.URL, target)

		assert.ErrorIs(t, err, ErrExtractFailed)
		_, statErr := os.Stat(filepath.Join(target, "..", "escape.txt"))
		assert.True(t, os.IsNotExist(statErr))
		noLeftovers(t, target)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		srv := serveBytes(t, http.StatusOK, buildZip(t, map[string]string{"a": "b"}))
		target := t.TempDir()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := New().FetchAndExtract(cancelled, srv.URL, target)

		assert.ErrorIs(t, err, ErrFetchFailed)
		noLeftovers(t, target)
	})
}
