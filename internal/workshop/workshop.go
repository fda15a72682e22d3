// Package workshop resolves Steam Workshop item metadata through the Steam
// Web API and keeps resolved maps in the record store.
package workshop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/quatrix/fleet/internal/store"
)

// detailsURL is the Steam Web API endpoint for published file details.
// It accepts an anonymous POST; no API key is required.
const detailsURL = "https://api.steampowered.com/ISteamRemoteStorage/GetPublishedFileDetails/v1/"

const requestTimeout = 10 * time.Second

var (
	// ErrNotFound indicates the workshop item does not exist or is hidden.
	ErrNotFound = errors.New("workshop item not found")

	// ErrLookupFailed indicates the Steam API could not be reached or
	// returned an unusable response.
	ErrLookupFailed = errors.New("workshop lookup failed")
)

// steamResultOK is the Steam API result code for success.
const steamResultOK = 1

type detailsResponse struct {
	Response struct {
		Result               int           `json:"result"`
		ResultCount          int           `json:"resultcount"`
		PublishedFileDetails []fileDetails `json:"publishedfiledetails"`
	} `json:"response"`
}

type fileDetails struct {
	PublishedFileID string `json:"publishedfileid"`
	Result          int    `json:"result"`
	Title           string `json:"title"`
	Filename        string `json:"filename"`
	PreviewURL      string `json:"preview_url"`
	ConsumerAppID   int    `json:"consumer_app_id"`
}

// mapStore is the slice of the record store the resolver needs.
type mapStore interface {
	UpsertWorkshopMap(ctx context.Context, m *store.WorkshopMap) error
	GetWorkshopMap(ctx context.Context, workshopID string) (*store.WorkshopMap, error)
	ListWorkshopMaps(ctx context.Context) ([]store.WorkshopMap, error)
	RemoveWorkshopMap(ctx context.Context, workshopID string) error
}

// Resolver looks up workshop items and records them as known maps.
type Resolver struct {
	client   *http.Client
	store    mapStore
	endpoint string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEndpoint overrides the Steam API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(r *Resolver) {
		r.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// New creates a Resolver backed by the given store.
func New(st mapStore, opts ...Option) *Resolver {
	r := &Resolver{
		client:   &http.Client{Timeout: requestTimeout},
		store:    st,
		endpoint: detailsURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches metadata for a workshop item and upserts it into the
// store. An item already in the store is refreshed: resolving is how a map
// recorded without a file name picks one up once Steam exposes it.
func (r *Resolver) Resolve(ctx context.Context, workshopID string) (*store.WorkshopMap, error) {
	details, err := r.fetchDetails(ctx, workshopID)
	if err != nil {
		return nil, err
	}

	m := &store.WorkshopMap{
		WorkshopID: workshopID,
		Name:       details.Title,
		ImageURL:   details.PreviewURL,
		MapFile:    MapFileFromFilename(details.Filename),
	}
	if err := r.store.UpsertWorkshopMap(ctx, m); err != nil {
		return nil, fmt.Errorf("record workshop map: %w", err)
	}
	return m, nil
}

// Known returns the stored record for a workshop item, resolving it first if
// it has never been seen or is missing its map file name.
func (r *Resolver) Known(ctx context.Context, workshopID string) (*store.WorkshopMap, error) {
	m, err := r.store.GetWorkshopMap(ctx, workshopID)
	if err == nil && m.MapFile != "" {
		return m, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return r.Resolve(ctx, workshopID)
}

// List returns all stored workshop maps.
func (r *Resolver) List(ctx context.Context) ([]store.WorkshopMap, error) {
	return r.store.ListWorkshopMaps(ctx)
}

// Forget removes a workshop map from the store.
func (r *Resolver) Forget(ctx context.Context, workshopID string) error {
	return r.store.RemoveWorkshopMap(ctx, workshopID)
}

func (r *Resolver) fetchDetails(ctx context.Context, workshopID string) (*fileDetails, error) {
	form := url.Values{}
	form.Set("itemcount", "1")
	form.Set("publishedfileids[0]", workshopID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create details request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var parsed detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrLookupFailed, err)
	}

	if len(parsed.Response.PublishedFileDetails) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workshopID)
	}

	details := parsed.Response.PublishedFileDetails[0]
	if details.Result != steamResultOK {
		return nil, fmt.Errorf("%w: %s (result %d)", ErrNotFound, workshopID, details.Result)
	}
	return &details, nil
}

// MapFileFromFilename derives the in-game map name from a workshop item's
// content file name, e.g. "maps/de_grail.vpk" becomes "de_grail". Returns
// empty when the item carries no file name; Steam omits it for some items
// until content is publicly listed.
func MapFileFromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, ".vpk")
	base = strings.TrimSuffix(base, ".bsp")
	return base
}
