// Package gateway confines all filesystem access to an instance's private
// directory tree. Every path handed to the rest of the system goes through
// Resolve, which rejects anything that would escape the instance's base
// directory.
package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors for gateway operations.
var (
	// ErrAccessDenied is returned when a path resolves outside the
	// instance's base directory.
	ErrAccessDenied = errors.New("access denied: path is outside the instance directory")

	// ErrNotFound is returned when a resolved path does not exist.
	ErrNotFound = errors.New("path not found")
)

// Entry describes a single directory entry returned by List.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// Gateway resolves relative paths against per-instance base directories.
type Gateway struct {
	installDir string
}

// New creates a Gateway rooted at the given install directory.
func New(installDir string) *Gateway {
	return &Gateway{installDir: installDir}
}

// InstanceRoot returns the root directory owned by an instance.
// Path format: <installDir>/<instanceID>/
func (g *Gateway) InstanceRoot(instanceID string) string {
	return filepath.Join(g.installDir, instanceID)
}

// BaseDir returns the content directory all relative paths resolve against.
// Path format: <installDir>/<instanceID>/game/csgo
func (g *Gateway) BaseDir(instanceID string) string {
	return filepath.Join(g.installDir, instanceID, "game", "csgo")
}

// Resolve maps a relative path to an absolute path inside the instance's
// base directory. Containment is checked segment-wise after normalization:
// ".." escapes, absolute inputs, and siblings that merely share the base
// directory as a string prefix are all rejected with ErrAccessDenied.
func (g *Gateway) Resolve(instanceID, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", ErrAccessDenied
	}

	base := g.BaseDir(instanceID)
	candidate := filepath.Clean(filepath.Join(base, relPath))

	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return "", ErrAccessDenied
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}

	return candidate, nil
}

// Exists reports whether a relative path exists inside the instance tree.
// Paths failing containment are reported as absent.
func (g *Gateway) Exists(instanceID, relPath string) bool {
	abs, err := g.Resolve(instanceID, relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// List returns the entries of a directory inside the instance tree,
// directories first, each group sorted by name.
func (g *Gateway) List(instanceID, relDir string) ([]Entry, error) {
	abs, err := g.Resolve(instanceID, relDir)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, infoErr := de.Info()
		if infoErr != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:  de.Name(),
			Size:  info.Size(),
			IsDir: de.IsDir(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// ReadFile returns the contents of a file inside the instance tree.
func (g *Gateway) ReadFile(instanceID, relPath string) ([]byte, error) {
	abs, err := g.Resolve(instanceID, relPath)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(abs) //nolint:gosec // G304: abs passed containment above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// WriteFile writes a file inside the instance tree, creating intermediate
// directories as needed. It never deletes anything.
func (g *Gateway) WriteFile(instanceID, relPath string, content []byte) error {
	abs, err := g.Resolve(instanceID, relPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil { //nolint:gosec // G306: server config files must stay world-readable for the game process
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// RemoveDir removes a directory subtree inside the instance tree.
// A missing directory is treated as already clean.
func (g *Gateway) RemoveDir(instanceID, relDir string) error {
	abs, err := g.Resolve(instanceID, relDir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove directory: %w", err)
	}
	return nil
}

// RemoveInstance deletes an instance's entire file tree, including
// everything above the content base directory.
func (g *Gateway) RemoveInstance(instanceID string) error {
	if err := os.RemoveAll(g.InstanceRoot(instanceID)); err != nil {
		return fmt.Errorf("remove instance tree: %w", err)
	}
	return nil
}
