package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultFeedURL is the GitHub API root used for release lookups.
const defaultFeedURL = "https://api.github.com"

// feedTimeout bounds a single release feed query.
const feedTimeout = 10 * time.Second

// Release is the subset of a GitHub release the pipeline cares about.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// Feed queries upstream release feeds for the latest published version.
type Feed struct {
	baseURL string
	client  *http.Client
}

// NewFeed creates a release feed client against the GitHub API.
func NewFeed() *Feed {
	return &Feed{
		baseURL: defaultFeedURL,
		client:  &http.Client{Timeout: feedTimeout},
	}
}

// NewFeedWithBase creates a feed client against a custom API root.
// Used by tests.
func NewFeedWithBase(baseURL string) *Feed {
	return &Feed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: feedTimeout},
	}
}

// LatestRelease returns the latest published release for a repository.
func (f *Feed) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", f.baseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "fleet-plugin-pipeline")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query release feed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}
