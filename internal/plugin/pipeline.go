package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quatrix/fleet/internal/gateway"
	"github.com/quatrix/fleet/internal/slogger"
)

// Sentinel errors for pipeline operations.
var (
	// ErrUnknownPlugin is returned for ids outside the static registry.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrDependencyMissing is returned when a plugin's ancestor in the
	// install graph is not present.
	ErrDependencyMissing = errors.New("dependency missing")

	// ErrUpToDate is returned by Update when no update is available or
	// the release feed did not resolve a package asset.
	ErrUpToDate = errors.New("plugin is up to date")
)

// DependencyError names the missing ancestor of a failed install.
type DependencyError struct {
	Plugin  ID
	Missing ID
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("cannot install %s: dependency %s is not installed", e.Plugin, e.Missing)
}

func (e *DependencyError) Unwrap() error {
	return ErrDependencyMissing
}

// UpdateInfo is the result of an upstream version check. Network failure
// populates Err instead of raising; update checks must never block other
// operations.
type UpdateInfo struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion,omitempty"`
	HasUpdate      bool   `json:"hasUpdate"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
	Err            string `json:"error,omitempty"`
}

// bundleInstaller fetches and unpacks package bundles.
type bundleInstaller interface {
	FetchAndExtract(ctx context.Context, sourceURL, targetDir string) error
}

// releaseFeed queries an upstream release feed.
type releaseFeed interface {
	LatestRelease(ctx context.Context, repo string) (*Release, error)
}

// versionStore persists the pinned version per plugin.
type versionStore interface {
	PluginVersion(ctx context.Context, pluginID string) (string, error)
	SetPluginVersion(ctx context.Context, pluginID, version string) error
}

// metamodSearchPath is the gameinfo.gi entry that loads the base framework.
const metamodSearchPath = "csgo/addons/metamod"

// gameinfoFile is the game configuration file patched on Metamod install.
const gameinfoFile = "gameinfo.gi"

// Pipeline drives plugin install, uninstall, and update operations for all
// instances. Per-plugin locks serialize update-check/install races on the
// shared pinned-version registry.
type Pipeline struct {
	gw        *gateway.Gateway
	installer bundleInstaller
	feed      releaseFeed
	versions  versionStore

	locks map[ID]*sync.Mutex
}

// NewPipeline creates a plugin pipeline.
func NewPipeline(gw *gateway.Gateway, installer bundleInstaller, feed releaseFeed, versions versionStore) *Pipeline {
	locks := make(map[ID]*sync.Mutex, len(All))
	for _, id := range All {
		locks[id] = &sync.Mutex{}
	}
	return &Pipeline{
		gw:        gw,
		installer: installer,
		feed:      feed,
		versions:  versions,
		locks:     locks,
	}
}

// Installed reports whether a plugin is present, derived by probing the
// instance tree. Presence is always re-derived; no stored flag is trusted.
func (p *Pipeline) Installed(instanceID string, id ID) bool {
	info, ok := Lookup(id)
	if !ok {
		return false
	}
	for _, probe := range info.ProbePaths {
		if !p.gw.Exists(instanceID, probe) {
			return false
		}
	}
	return true
}

// Status returns the presence map for every known plugin on an instance.
func (p *Pipeline) Status(instanceID string) map[ID]bool {
	status := make(map[ID]bool, len(All))
	for _, id := range All {
		status[id] = p.Installed(instanceID, id)
	}
	return status
}

// Install fetches and unpacks a plugin into the instance tree. Installing
// an already-present plugin is a no-op success. A missing ancestor in the
// dependency graph fails with a DependencyError before anything is written.
func (p *Pipeline) Install(ctx context.Context, instanceID string, id ID) error {
	info, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}

	lock := p.locks[id]
	lock.Lock()
	defer lock.Unlock()

	if p.Installed(instanceID, id) {
		return nil
	}
	if info.DependsOn != "" && !p.Installed(instanceID, info.DependsOn) {
		return &DependencyError{Plugin: id, Missing: info.DependsOn}
	}

	version, err := p.pinnedVersion(ctx, info)
	if err != nil {
		return err
	}
	return p.installPackage(ctx, instanceID, info, info.PackageURL(version))
}

// installPackage unpacks the plugin bundle (and any companions) and applies
// plugin-specific post-install edits.
func (p *Pipeline) installPackage(ctx context.Context, instanceID string, info Info, packageURL string) error {
	base := p.gw.BaseDir(instanceID)

	if info.ID == SimpleAdmin {
		for _, companion := range simpleAdminCompanions {
			if err := p.installer.FetchAndExtract(ctx, companion, base); err != nil {
				return fmt.Errorf("install %s companion: %w", info.ID, err)
			}
		}
		// The SimpleAdmin bundle roots at the plugin directory, not the
		// content directory.
		if err := p.installer.FetchAndExtract(ctx, packageURL, filepath.Join(base, "addons")); err != nil {
			return fmt.Errorf("install %s: %w", info.ID, err)
		}
		return nil
	}

	if err := p.installer.FetchAndExtract(ctx, packageURL, base); err != nil {
		return fmt.Errorf("install %s: %w", info.ID, err)
	}

	if info.ID == Metamod {
		if err := p.registerSearchPath(instanceID); err != nil {
			return fmt.Errorf("register metamod search path: %w", err)
		}
	}
	return nil
}

// Uninstall removes a plugin's directory set and reverts its configuration
// edits. Missing directories are treated as already clean. Removing a
// dependency while dependents are present is allowed; dependents are left
// installed and reported back as a warning.
func (p *Pipeline) Uninstall(ctx context.Context, instanceID string, id ID) ([]ID, error) {
	info, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}

	lock := p.locks[id]
	lock.Lock()
	defer lock.Unlock()

	orphans := p.dependents(instanceID, id)

	for _, dir := range info.RemovePaths {
		if err := p.gw.RemoveDir(instanceID, dir); err != nil {
			return nil, fmt.Errorf("remove %s files: %w", id, err)
		}
	}

	if id == Metamod {
		if err := p.unregisterSearchPath(instanceID); err != nil {
			return nil, fmt.Errorf("revert metamod search path: %w", err)
		}
	}

	if len(orphans) > 0 {
		slogger.L(ctx).Warn("uninstalled a dependency with dependents still present",
			"plugin", id, "dependents", orphans)
	}
	return orphans, nil
}

// dependents lists installed plugins that directly depend on id.
func (p *Pipeline) dependents(instanceID string, id ID) []ID {
	var out []ID
	for _, other := range All {
		info, _ := Lookup(other)
		if info.DependsOn == id && p.Installed(instanceID, other) {
			out = append(out, other)
		}
	}
	return out
}

// CheckUpdate queries the plugin's release feed and compares the published
// version against the pinned one. Versions are compared by string
// equality, not semantic ordering. Never returns an error: failures are
// reported in the Err field.
func (p *Pipeline) CheckUpdate(ctx context.Context, id ID) UpdateInfo {
	info, ok := Lookup(id)
	if !ok {
		return UpdateInfo{ID: id, Err: "unknown plugin"}
	}

	current, err := p.pinnedVersion(ctx, info)
	if err != nil {
		current = info.DefaultVersion
	}
	result := UpdateInfo{
		ID:             id,
		Name:           info.Name,
		CurrentVersion: current,
	}

	if info.GitHubRepo == "" {
		result.DownloadURL = info.DownloadURL
		result.Err = "no release feed available"
		return result
	}

	release, err := p.feed.LatestRelease(ctx, info.GitHubRepo)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.LatestVersion = release.TagName
	result.HasUpdate = release.TagName != "" && release.TagName != current
	for _, asset := range release.Assets {
		if info.Asset.Matches(asset.Name) {
			result.DownloadURL = asset.DownloadURL
			break
		}
	}
	return result
}

// CheckUpdates runs update checks for every known plugin concurrently.
func (p *Pipeline) CheckUpdates(ctx context.Context) map[ID]UpdateInfo {
	results := make([]UpdateInfo, len(All))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range All {
		g.Go(func() error {
			results[i] = p.CheckUpdate(ctx, id)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // checks never return errors

	out := make(map[ID]UpdateInfo, len(All))
	for i, id := range All {
		out[id] = results[i]
	}
	return out
}

// Update reinstalls a plugin at its latest published version and advances
// the pinned version process-wide. Proceeds only when CheckUpdate reports
// an available update with a resolved package asset.
func (p *Pipeline) Update(ctx context.Context, instanceID string, id ID) error {
	update := p.CheckUpdate(ctx, id)
	if !update.HasUpdate || update.DownloadURL == "" {
		return ErrUpToDate
	}

	info, _ := Lookup(id)

	lock := p.locks[id]
	lock.Lock()
	defer lock.Unlock()

	for _, dir := range info.RemovePaths {
		if err := p.gw.RemoveDir(instanceID, dir); err != nil {
			return fmt.Errorf("remove old %s files: %w", id, err)
		}
	}
	if err := p.installPackage(ctx, instanceID, info, update.DownloadURL); err != nil {
		return err
	}

	if err := p.versions.SetPluginVersion(ctx, string(id), update.LatestVersion); err != nil {
		return fmt.Errorf("advance pinned version: %w", err)
	}
	return nil
}

// pinnedVersion reads the pinned version for a plugin, falling back to the
// registry default when the plugin has never been pinned.
func (p *Pipeline) pinnedVersion(ctx context.Context, info Info) (string, error) {
	version, err := p.versions.PluginVersion(ctx, string(info.ID))
	if err != nil {
		return "", fmt.Errorf("read pinned version: %w", err)
	}
	if version == "" {
		return info.DefaultVersion, nil
	}
	return version, nil
}

// lowViolenceRe anchors the search-path insertion point preferred by the
// game: directly below the low-violence content entry.
var lowViolenceRe = regexp.MustCompile(`(Game_LowViolence\s+csgo_lv[^\r\n]*)`)

// searchPathsRe is the fallback insertion point at the top of the
// SearchPaths block.
var searchPathsRe = regexp.MustCompile(`(SearchPaths\s*\{)`)

// metamodEntryRe matches the whole search-path line for removal.
var metamodEntryRe = regexp.MustCompile(`(?m)^[ \t]*Game[ \t]+csgo/addons/metamod[ \t]*\r?\n?`)

// registerSearchPath adds the metamod entry to gameinfo.gi. Guarded by a
// substring check so the edit is applied at most once.
func (p *Pipeline) registerSearchPath(instanceID string) error {
	content, err := p.gw.ReadFile(instanceID, gameinfoFile)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil
		}
		return err
	}

	text := string(content)
	if strings.Contains(text, metamodSearchPath) {
		return nil
	}

	entry := "\n\t\t\tGame\tcsgo/addons/metamod"
	switch {
	case lowViolenceRe.MatchString(text):
		text = lowViolenceRe.ReplaceAllString(text, "${1}"+entry)
	case searchPathsRe.MatchString(text):
		text = searchPathsRe.ReplaceAllString(text, "${1}"+entry)
	default:
		return nil
	}

	return p.gw.WriteFile(instanceID, gameinfoFile, []byte(text))
}

// unregisterSearchPath removes the metamod entry from gameinfo.gi.
func (p *Pipeline) unregisterSearchPath(instanceID string) error {
	content, err := p.gw.ReadFile(instanceID, gameinfoFile)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil
		}
		return err
	}

	text := string(content)
	if !strings.Contains(text, metamodSearchPath) {
		return nil
	}

	text = metamodEntryRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\tGame\tcsgo/addons/metamod", "")
	return p.gw.WriteFile(instanceID, gameinfoFile, []byte(text))
}
