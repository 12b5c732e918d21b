package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/shared"
)

const (
	// DefaultBrandsURL lists every station brand with its feed service id.
	DefaultBrandsURL = "https://bff-web-guacamole.musicradio.com/globalplayer/brands"

	brandsAccept = "application/vnd.global.8+json"
	userAgent    = "onair/1.0"
)

// Brand is one station entry of the brand directory.
type Brand struct {
	Slug     string   `json:"brandSlug"`
	Name     string   `json:"name"`
	HeraldID flexible `json:"heraldId"`
}

// flexible accepts either a JSON string or number.
type flexible string

func (f *flexible) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexible(strings.Trim(s, `"`))
	return nil
}

// BrandDirectory resolves a station slug to the service id used by the now-playing feed.
type BrandDirectory struct {
	url        string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewBrandDirectory creates a directory reading from url.
func NewBrandDirectory(url string, client *http.Client) *BrandDirectory {
	if url == "" {
		url = DefaultBrandsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &BrandDirectory{
		url:        url,
		httpClient: client,
		cache:      make(map[string]string),
	}
}

// Lookup returns the service id for slug (case-insensitive). Results are cached for the directory's lifetime.
func (d *BrandDirectory) Lookup(ctx context.Context, slug string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(slug))
	if key == "" {
		return "", fmt.Errorf("%w: station slug", shared.ErrMissingArgument)
	}

	d.mu.Lock()
	id, ok := d.cache[key]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	brands, err := d.Brands(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range brands {
		if strings.ToLower(b.Slug) == key && b.HeraldID != "" {
			d.mu.Lock()
			d.cache[key] = string(b.HeraldID)
			d.mu.Unlock()
			return string(b.HeraldID), nil
		}
	}
	return "", fmt.Errorf("%w: %s", shared.ErrBrandNotFound, slug)
}

// Brands fetches the full directory.
func (d *BrandDirectory) Brands(ctx context.Context) ([]Brand, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", brandsAccept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: brand directory: %v", shared.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: brand directory returned status %d", shared.ErrFeedUnavailable, resp.StatusCode)
	}

	var brands []Brand
	if err := json.Unmarshal(body, &brands); err != nil {
		return nil, fmt.Errorf("%w: brand directory is not a list: %v", shared.ErrAPIRequest, err)
	}
	return brands, nil
}
