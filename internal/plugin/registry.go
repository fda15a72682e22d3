// Package plugin installs, removes, and updates server add-on bundles
// across a small static dependency graph: the Metamod base framework, the
// CounterStrikeSharp scripting platform on top of it, and leaf plugins on
// top of that.
//
// Installed state is never persisted; it is re-derived by probing
// well-known paths under the instance tree, so declared and actual state
// cannot drift.
package plugin

import "strings"

// ID identifies a known plugin. Actions are dispatched through a fixed
// table keyed by these constants, never by building method names from
// strings.
type ID string

// Known plugin ids.
const (
	Metamod     ID = "metamod"
	CSSharp     ID = "cssharp"
	MatchZy     ID = "matchzy"
	SimpleAdmin ID = "simpleadmin"
)

// All lists every known plugin in dependency order.
var All = []ID{Metamod, CSSharp, MatchZy, SimpleAdmin}

// AssetRule selects a release asset by its file name.
type AssetRule struct {
	Prefix   string
	Suffix   string
	Contains string
}

// Matches reports whether an asset name satisfies the rule.
func (r AssetRule) Matches(name string) bool {
	if r.Contains != "" && !strings.Contains(name, r.Contains) {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(name, r.Prefix) {
		return false
	}
	if r.Suffix != "" && !strings.HasSuffix(name, r.Suffix) {
		return false
	}
	return true
}

// Info is the static registry entry for one plugin. Immutable at runtime;
// the currently-pinned version lives in the store and starts at
// DefaultVersion.
type Info struct {
	ID             ID
	Name           string
	DefaultVersion string

	// GitHubRepo is the upstream release feed ("owner/repo"), empty when
	// the plugin is not distributed through GitHub.
	GitHubRepo string

	// DownloadURL is a static package location for plugins without a
	// release feed.
	DownloadURL string

	// DownloadURLPattern builds a package URL from a pinned version.
	// Placeholders: {version} and {version_clean} (leading "v" stripped).
	DownloadURLPattern string

	// Asset selects the release asset during update checks.
	Asset AssetRule

	// DependsOn names the direct dependency in the install graph.
	DependsOn ID

	// ProbePaths are the instance-relative paths that must all exist for
	// the plugin to count as installed.
	ProbePaths []string

	// RemovePaths are the instance-relative paths removed on uninstall.
	RemovePaths []string
}

// PackageURL resolves the download location for a pinned version.
func (i Info) PackageURL(version string) string {
	if i.DownloadURLPattern == "" {
		return i.DownloadURL
	}
	url := strings.ReplaceAll(i.DownloadURLPattern, "{version}", version)
	return strings.ReplaceAll(url, "{version_clean}", strings.TrimPrefix(version, "v"))
}

// registry holds the static metadata for every known plugin.
var registry = map[ID]Info{
	Metamod: {
		ID:             Metamod,
		Name:           "Metamod:Source",
		DefaultVersion: "2.0-git1380",
		DownloadURL:    "https://mms.alliedmods.net/mmsdrop/2.0/mmsource-2.0.0-git1380-linux.tar.gz.zip",
		ProbePaths:     []string{"addons/metamod.vdf", "addons/metamod/bin"},
		RemovePaths:    []string{"addons/metamod", "addons/metamod.vdf"},
	},
	CSSharp: {
		ID:                 CSSharp,
		Name:               "CounterStrikeSharp",
		DefaultVersion:     "v1.0.355",
		GitHubRepo:         "roflmuffin/CounterStrikeSharp",
		DownloadURLPattern: "https://github.com/roflmuffin/CounterStrikeSharp/releases/download/{version}/counterstrikesharp-with-runtime-linux-{version_clean}.zip",
		Asset:              AssetRule{Contains: "counterstrikesharp-with-runtime-linux"},
		DependsOn:          Metamod,
		ProbePaths:         []string{"addons/counterstrikesharp"},
		RemovePaths:        []string{"addons/counterstrikesharp"},
	},
	MatchZy: {
		ID:                 MatchZy,
		Name:               "MatchZy",
		DefaultVersion:     "0.8.15",
		GitHubRepo:         "shobhit-pathak/MatchZy",
		DownloadURLPattern: "https://github.com/shobhit-pathak/MatchZy/releases/download/{version}/MatchZy-{version}.zip",
		Asset:              AssetRule{Prefix: "MatchZy-", Suffix: ".zip"},
		DependsOn:          CSSharp,
		ProbePaths:         []string{"addons/counterstrikesharp/plugins/MatchZy"},
		RemovePaths:        []string{"addons/counterstrikesharp/plugins/MatchZy"},
	},
	SimpleAdmin: {
		ID:                 SimpleAdmin,
		Name:               "CS2-SimpleAdmin",
		DefaultVersion:     "v1.7.8-beta-8",
		GitHubRepo:         "daffyyyy/CS2-SimpleAdmin",
		DownloadURLPattern: "https://github.com/daffyyyy/CS2-SimpleAdmin/releases/download/{version}/CS2-SimpleAdmin-{version}.zip",
		Asset:              AssetRule{Prefix: "CS2-SimpleAdmin-", Suffix: ".zip"},
		DependsOn:          CSSharp,
		ProbePaths:         []string{"addons/counterstrikesharp/plugins/CS2-SimpleAdmin"},
		RemovePaths: []string{
			"addons/counterstrikesharp/plugins/CS2-SimpleAdmin",
			"addons/counterstrikesharp/plugins/CS2-SimpleAdmin_FunCommands",
			"addons/counterstrikesharp/plugins/CS2-SimpleAdmin_StealthModule",
			"addons/counterstrikesharp/plugins/MenuManagerCore",
			"addons/counterstrikesharp/plugins/PlayerSettings",
			"addons/counterstrikesharp/shared/AnyBaseLib",
			"addons/counterstrikesharp/shared/CS2-SimpleAdminApi",
			"addons/counterstrikesharp/shared/MenuManagerApi",
			"addons/counterstrikesharp/shared/PlayerSettingsApi",
			"addons/counterstrikesharp/configs/plugins/CS2-SimpleAdmin",
		},
	},
}

// simpleAdminCompanions are the shared-library bundles SimpleAdmin needs,
// fetched before the plugin itself.
var simpleAdminCompanions = []string{
	"https://github.com/NickFox007/AnyBaseLibCS2/releases/latest/download/AnyBaseLib.zip",
	"https://github.com/NickFox007/PlayerSettingsCS2/releases/latest/download/PlayerSettings.zip",
	"https://github.com/NickFox007/MenuManagerCS2/releases/latest/download/MenuManager.zip",
}

// Lookup returns the registry entry for a plugin id.
func Lookup(id ID) (Info, bool) {
	info, ok := registry[id]
	return info, ok
}
