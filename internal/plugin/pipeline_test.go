package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quatrix/fleet/internal/gateway"
)

// fakeInstaller records FetchAndExtract calls and optionally simulates
// extraction side effects.
type fakeInstaller struct {
	calls     []string
	onExtract func(sourceURL, targetDir string) error
}

func (f *fakeInstaller) FetchAndExtract(_ context.Context, sourceURL, targetDir string) error {
	f.calls = append(f.calls, sourceURL)
	if f.onExtract != nil {
		return f.onExtract(sourceURL, targetDir)
	}
	return nil
}

// fakeFeed serves canned releases per repository.
type fakeFeed struct {
	releases map[string]*Release
	err      error
}

func (f *fakeFeed) LatestRelease(_ context.Context, repo string) (*Release, error) {
	if f.err != nil {
		return nil, f.err
	}
	release, ok := f.releases[repo]
	if !ok {
		return nil, errors.New("release feed returned 404 Not Found")
	}
	return release, nil
}

// fakeVersions is an in-memory pinned-version store.
type fakeVersions struct {
	pins map[string]string
}

func (f *fakeVersions) PluginVersion(_ context.Context, pluginID string) (string, error) {
	return f.pins[pluginID], nil
}

func (f *fakeVersions) SetPluginVersion(_ context.Context, pluginID, version string) error {
	if f.pins == nil {
		f.pins = make(map[string]string)
	}
	f.pins[pluginID] = version
	return nil
}

type pipelineFixture struct {
	pipeline  *Pipeline
	gw        *gateway.Gateway
	installer *fakeInstaller
	feed      *fakeFeed
	versions  *fakeVersions
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	gw := gateway.New(t.TempDir())
	require.NoError(t, os.MkdirAll(gw.BaseDir("1"), 0o750))

	installer := &fakeInstaller{}
	feed := &fakeFeed{releases: map[string]*Release{}}
	versions := &fakeVersions{pins: map[string]string{}}

	return &pipelineFixture{
		pipeline:  NewPipeline(gw, installer, feed, versions),
		gw:        gw,
		installer: installer,
		feed:      feed,
		versions:  versions,
	}
}

// placePlugin fabricates the on-disk probe paths for a plugin.
func (f *pipelineFixture) placePlugin(t *testing.T, id ID) {
	t.Helper()

	info, ok := Lookup(id)
	require.True(t, ok)
	for _, probe := range info.ProbePaths {
		abs, err := f.gw.Resolve("1", probe)
		require.NoError(t, err)
		if filepath.Ext(probe) != "" {
			require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
			require.NoError(t, os.WriteFile(abs, []byte("x"), 0o644))
		} else {
			require.NoError(t, os.MkdirAll(abs, 0o750))
		}
	}
}

func TestPipeline_Status(t *testing.T) {
	f := newFixture(t)

	f.placePlugin(t, Metamod)
	f.placePlugin(t, CSSharp)

	status := f.pipeline.Status("1")

	assert.True(t, status[Metamod])
	assert.True(t, status[CSSharp])
	assert.False(t, status[MatchZy])
	assert.False(t, status[SimpleAdmin])
}

func TestPipeline_Install(t *testing.T) {
	ctx := context.Background()

	t.Run("is a no-op when already present", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, Metamod)

		require.NoError(t, f.pipeline.Install(ctx, "1", Metamod))
		require.NoError(t, f.pipeline.Install(ctx, "1", Metamod))

		assert.Empty(t, f.installer.calls, "present plugin must not be re-fetched")
	})

	t.Run("fails with DependencyMissing naming the absent ancestor", func(t *testing.T) {
		f := newFixture(t)

		err := f.pipeline.Install(ctx, "1", MatchZy)

		require.ErrorIs(t, err, ErrDependencyMissing)
		var depErr *DependencyError
		require.ErrorAs(t, err, &depErr)
		assert.Equal(t, CSSharp, depErr.Missing)
		assert.Empty(t, f.installer.calls, "no files may be written on a graph violation")
	})

	t.Run("fetches the pinned package into the content directory", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, Metamod)
		f.versions.pins["cssharp"] = "v1.0.360"

		require.NoError(t, f.pipeline.Install(ctx, "1", CSSharp))

		require.Len(t, f.installer.calls, 1)
		assert.Contains(t, f.installer.calls[0], "v1.0.360")
		assert.Contains(t, f.installer.calls[0], "counterstrikesharp-with-runtime-linux-1.0.360.zip")
	})

	t.Run("installs simpleadmin companions before the plugin bundle", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, Metamod)
		f.placePlugin(t, CSSharp)

		require.NoError(t, f.pipeline.Install(ctx, "1", SimpleAdmin))

		require.Len(t, f.installer.calls, 4)
		assert.Contains(t, f.installer.calls[0], "AnyBaseLib.zip")
		assert.Contains(t, f.installer.calls[3], "CS2-SimpleAdmin-v1.7.8-beta-8.zip")
	})

	t.Run("rejects unknown plugin ids", func(t *testing.T) {
		f := newFixture(t)

		err := f.pipeline.Install(ctx, "1", ID("sourcemod"))
		assert.ErrorIs(t, err, ErrUnknownPlugin)
	})
}

const gameinfoFixture = `"GameInfo"
{
	game		"Counter-Strike 2"
	FileSystem
	{
		SearchPaths
		{
			Game_LowViolence	csgo_lv
			Game	csgo
			Game	core
		}
	}
}
`

func TestPipeline_GameinfoPatch(t *testing.T) {
	ctx := context.Background()

	t.Run("registers the search path exactly once", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.gw.WriteFile("1", gameinfoFile, []byte(gameinfoFixture)))

		require.NoError(t, f.pipeline.Install(ctx, "1", Metamod))
		// Second install is a no-op only once probes exist; force the
		// patch path again to prove the substring guard holds.
		require.NoError(t, f.pipeline.registerSearchPath("1"))

		content, err := f.gw.ReadFile("1", gameinfoFile)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(content), metamodSearchPath))

		// Entry lands directly below the low-violence line.
		lines := strings.Split(string(content), "\n")
		for i, line := range lines {
			if strings.Contains(line, "Game_LowViolence") {
				require.Less(t, i+1, len(lines))
				assert.Contains(t, lines[i+1], metamodSearchPath)
			}
		}
	})

	t.Run("falls back to the SearchPaths block", func(t *testing.T) {
		f := newFixture(t)
		fixture := strings.Replace(gameinfoFixture, "Game_LowViolence\tcsgo_lv\n\t\t\t", "", 1)
		require.NoError(t, f.gw.WriteFile("1", gameinfoFile, []byte(fixture)))

		require.NoError(t, f.pipeline.registerSearchPath("1"))

		content, err := f.gw.ReadFile("1", gameinfoFile)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(content), metamodSearchPath))
	})

	t.Run("uninstall reverts the edit", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.gw.WriteFile("1", gameinfoFile, []byte(gameinfoFixture)))
		f.placePlugin(t, Metamod)
		require.NoError(t, f.pipeline.registerSearchPath("1"))

		_, err := f.pipeline.Uninstall(ctx, "1", Metamod)
		require.NoError(t, err)

		content, err := f.gw.ReadFile("1", gameinfoFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), metamodSearchPath)
		assert.False(t, f.pipeline.Installed("1", Metamod))
	})

	t.Run("missing gameinfo is tolerated", func(t *testing.T) {
		f := newFixture(t)

		assert.NoError(t, f.pipeline.registerSearchPath("1"))
		assert.NoError(t, f.pipeline.unregisterSearchPath("1"))
	})
}

func TestPipeline_Uninstall(t *testing.T) {
	ctx := context.Background()

	t.Run("treats missing directories as already clean", func(t *testing.T) {
		f := newFixture(t)

		orphans, err := f.pipeline.Uninstall(ctx, "1", MatchZy)

		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("reports dependents left behind", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, Metamod)
		f.placePlugin(t, CSSharp)
		f.placePlugin(t, MatchZy)

		orphans, err := f.pipeline.Uninstall(ctx, "1", CSSharp)

		require.NoError(t, err)
		assert.Equal(t, []ID{MatchZy}, orphans)
		assert.False(t, f.pipeline.Installed("1", CSSharp))
	})

	t.Run("removes the full simpleadmin directory set", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, SimpleAdmin)
		require.NoError(t, os.MkdirAll(filepath.Join(f.gw.BaseDir("1"), "addons", "counterstrikesharp", "shared", "AnyBaseLib"), 0o750))

		_, err := f.pipeline.Uninstall(ctx, "1", SimpleAdmin)

		require.NoError(t, err)
		assert.False(t, f.gw.Exists("1", "addons/counterstrikesharp/shared/AnyBaseLib"))
	})
}

func TestPipeline_CheckUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("reports an update with the matching asset", func(t *testing.T) {
		f := newFixture(t)
		f.feed.releases["shobhit-pathak/MatchZy"] = &Release{
			TagName: "0.9.0",
			Assets: []Asset{
				{Name: "MatchZy-0.9.0-with-cssharp.zip", DownloadURL: "https://example.com/bundle.zip"},
				{Name: "MatchZy-0.9.0.zip", DownloadURL: "https://example.com/matchzy.zip"},
				{Name: "source.tar.gz", DownloadURL: "https://example.com/src.tar.gz"},
			},
		}

		info := f.pipeline.CheckUpdate(ctx, MatchZy)

		assert.True(t, info.HasUpdate)
		assert.Equal(t, "0.8.15", info.CurrentVersion)
		assert.Equal(t, "0.9.0", info.LatestVersion)
		assert.Equal(t, "https://example.com/bundle.zip", info.DownloadURL)
		assert.Empty(t, info.Err)
	})

	t.Run("compares versions by string equality", func(t *testing.T) {
		f := newFixture(t)
		f.versions.pins["matchzy"] = "0.9.0"
		f.feed.releases["shobhit-pathak/MatchZy"] = &Release{TagName: "0.9.0"}

		info := f.pipeline.CheckUpdate(ctx, MatchZy)

		assert.False(t, info.HasUpdate)
		assert.Equal(t, "0.9.0", info.CurrentVersion)
	})

	t.Run("never raises on feed failure", func(t *testing.T) {
		f := newFixture(t)
		f.feed.err = errors.New("dial tcp: connection refused")

		info := f.pipeline.CheckUpdate(ctx, CSSharp)

		assert.False(t, info.HasUpdate)
		assert.NotEmpty(t, info.Err)
	})

	t.Run("plugins without a feed report a soft error", func(t *testing.T) {
		f := newFixture(t)

		info := f.pipeline.CheckUpdate(ctx, Metamod)

		assert.False(t, info.HasUpdate)
		assert.Equal(t, "no release feed available", info.Err)
		assert.NotEmpty(t, info.DownloadURL, "static package location is still resolved")
	})
}

func TestPipeline_CheckUpdates(t *testing.T) {
	f := newFixture(t)
	f.feed.err = errors.New("offline")

	results := f.pipeline.CheckUpdates(context.Background())

	require.Len(t, results, len(All))
	for _, id := range All {
		assert.False(t, results[id].HasUpdate)
	}
}

func TestPipeline_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ErrUpToDate when nothing to do", func(t *testing.T) {
		f := newFixture(t)
		f.versions.pins["matchzy"] = "0.9.0"
		f.feed.releases["shobhit-pathak/MatchZy"] = &Release{TagName: "0.9.0"}

		err := f.pipeline.Update(ctx, "1", MatchZy)
		assert.ErrorIs(t, err, ErrUpToDate)
	})

	t.Run("returns ErrUpToDate without a resolved asset", func(t *testing.T) {
		f := newFixture(t)
		f.feed.releases["shobhit-pathak/MatchZy"] = &Release{TagName: "0.9.0"}

		err := f.pipeline.Update(ctx, "1", MatchZy)
		assert.ErrorIs(t, err, ErrUpToDate)
	})

	t.Run("reinstalls and advances the pinned version", func(t *testing.T) {
		f := newFixture(t)
		f.placePlugin(t, Metamod)
		f.placePlugin(t, CSSharp)
		f.placePlugin(t, MatchZy)
		f.feed.releases["shobhit-pathak/MatchZy"] = &Release{
			TagName: "0.9.0",
			Assets:  []Asset{{Name: "MatchZy-0.9.0.zip", DownloadURL: "https://example.com/matchzy-0.9.0.zip"}},
		}

		require.NoError(t, f.pipeline.Update(ctx, "1", MatchZy))

		require.Len(t, f.installer.calls, 1)
		assert.Equal(t, "https://example.com/matchzy-0.9.0.zip", f.installer.calls[0])
		assert.Equal(t, "0.9.0", f.versions.pins["matchzy"])
	})
}

func TestFeed_LatestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a release", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/shobhit-pathak/MatchZy/releases/latest", r.URL.Path)
			fmt.Fprint(w, `{"tag_name":"0.9.0","assets":[{"name":"MatchZy-0.9.0.zip","browser_download_url":"https://example.com/m.zip"}]}`)
		}))
		defer srv.Close()

		release, err := NewFeedWithBase(srv.URL).LatestRelease(ctx, "shobhit-pathak/MatchZy")

		require.NoError(t, err)
		assert.Equal(t, "0.9.0", release.TagName)
		require.Len(t, release.Assets, 1)
		assert.Equal(t, "MatchZy-0.9.0.zip", release.Assets[0].Name)
	})

	t.Run("reports non-200 statuses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := NewFeedWithBase(srv.URL).LatestRelease(ctx, "x/y")
		assert.Error(t, err)
	})
}

func TestAssetRule_Matches(t *testing.T) {
	rule := AssetRule{Prefix: "MatchZy-", Suffix: ".zip"}

	assert.True(t, rule.Matches("MatchZy-0.9.0.zip"))
	assert.False(t, rule.Matches("MatchZy-0.9.0.tar.gz"))
	assert.False(t, rule.Matches("matchzy-0.9.0.zip"))

	contains := AssetRule{Contains: "with-runtime-linux"}
	assert.True(t, contains.Matches("counterstrikesharp-with-runtime-linux-1.0.355.zip"))
	assert.False(t, contains.Matches("counterstrikesharp-with-runtime-windows-1.0.355.zip"))
}
