// Spotify Web API implementation of [Catalog]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// DefaultRedirectURI is used when the config does not name one.
	DefaultRedirectURI = "http://127.0.0.1:3000/callback"
)

// SpotifyScopes are the OAuth scopes needed to manage the playlist.
var SpotifyScopes = []string{
	"playlist-modify-public",
	"playlist-modify-private",
	"playlist-read-private",
	"user-library-read",
}

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Country     string         `json:"country"`
	Product     string         `json:"product"`
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// SpotifyArtist represents a simplified artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a simplified album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyPlaylist represents playlist metadata.
type SpotifyPlaylist struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
	Owner  struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

type spotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

type spotifyPlaylistTracks struct {
	Items  []spotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

type spotifySearch struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
	} `json:"tracks"`
}

type trackRef struct {
	URI       string `json:"uri"`
	Positions []int  `json:"positions,omitempty"`
}

// Match converts the track into a [models.CatalogMatch].
func (t SpotifyTrack) Match() models.CatalogMatch {
	m := models.CatalogMatch{
		CatalogID:      t.ID,
		URI:            t.URI,
		CanonicalTitle: t.Name,
		ReleaseDate:    t.Album.ReleaseDate,
	}
	for _, a := range t.Artists {
		m.CanonicalArtists = append(m.CanonicalArtists, a.Name)
	}
	if len(t.Album.Images) > 0 {
		m.ArtworkURL = t.Album.Images[0].URL
	}
	if m.URI == "" && m.CatalogID != "" {
		m.URI = TrackURI(m.CatalogID)
	}
	return m
}

// TrackURI returns the spotify:track URI for id.
func TrackURI(id string) string {
	return "spotify:track:" + id
}

// SpotifyOptions configures a [SpotifyService].
type SpotifyOptions struct {
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	BaseURL           string
	TokenURL          string
	TokenPath         string
	RequestsPerSecond float64
	Burst             int
	Policy            RetryPolicy
	HTTPClient        *http.Client

	// OnToken is called with every refreshed token so it can be persisted.
	OnToken func(*oauth2.Token)
	// Sleep replaces [SleepContext] between retries.
	Sleep Sleeper
}

// NewSpotifyOptions builds options from the loaded configuration.
func NewSpotifyOptions(cfg *shared.Config) SpotifyOptions {
	c := cfg.Catalog
	return SpotifyOptions{
		ClientID:          cfg.Credentials.Spotify.ClientID,
		ClientSecret:      cfg.Credentials.Spotify.ClientSecret,
		RedirectURI:       cfg.Credentials.Spotify.RedirectURI,
		TokenPath:         cfg.Credentials.Spotify.TokenPath,
		BaseURL:           c.BaseURL,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Policy: RetryPolicy{
			Attempts:          c.RetryAttempts,
			Base:              c.RetryBase.Duration,
			Factor:            c.RetryFactor,
			MaxRateLimitWaits: c.MaxRateLimitWaits,
		},
	}
}

// SpotifyService implements [Catalog] against the Spotify Web API.
//
// Uses [oauth2] for authentication with automatic refresh. A 401 or a failed refresh latches the
// service: every call fails with [shared.ErrNotAuthenticated] until [SpotifyService.Authenticate]
// installs a new token.
type SpotifyService struct {
	config  *oauth2.Config
	baseURL string
	policy  RetryPolicy
	limiter *rate.Limiter
	sleep   Sleeper
	onToken func(*oauth2.Token)
	base    *http.Client
	path    string

	mu         sync.RWMutex
	httpClient *http.Client
	authErr    error
}

// NewSpotifyService creates a new Spotify service. It is unauthenticated until [SpotifyService.Authenticate] is called.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	if opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}
	if opts.RedirectURI == "" {
		opts.RedirectURI = DefaultRedirectURI
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = spotifyTokenURL
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &SpotifyService{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       SpotifyScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyAuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		policy:  opts.Policy,
		limiter: rate.NewLimiter(limit, max(opts.Burst, 1)),
		sleep:   opts.Sleep,
		onToken: opts.OnToken,
		base:    opts.HTTPClient,
		path:    opts.TokenPath,
		authErr: shared.ErrNotAuthenticated,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// OAuthConfig exposes the OAuth2 configuration used by the auth flow.
func (s *SpotifyService) OAuthConfig() *oauth2.Config {
	return s.config
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and installs it.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.base)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	s.Authenticate(token)
	return token, nil
}

// Authenticate installs token, clearing any latched auth failure.
func (s *SpotifyService) Authenticate(token *oauth2.Token) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.base)
	src := &refreshableTokenSource{
		source:   s.config.TokenSource(ctx, token),
		callback: s.onToken,
		last:     token.AccessToken,
	}

	client := oauth2.NewClient(ctx, src)
	client.Timeout = s.base.Timeout

	s.mu.Lock()
	s.httpClient = client
	s.authErr = nil
	s.mu.Unlock()
}

// Reauthenticate reloads the token file written by the auth command and verifies it.
func (s *SpotifyService) Reauthenticate(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("%w: no token path configured", shared.ErrMissingConfig)
	}
	token, err := shared.LoadToken(s.path)
	if err != nil {
		return err
	}
	s.Authenticate(token)
	_, err = s.UserProfile(ctx)
	return err
}

// Healthy returns the latched auth error, if any.
func (s *SpotifyService) Healthy() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authErr
}

func (s *SpotifyService) latch(err error) {
	s.mu.Lock()
	s.authErr = fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	s.mu.Unlock()
}

func (s *SpotifyService) client() (*http.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.httpClient, nil
}

// doRequest performs an authenticated request to the Spotify API with rate limiting and retries.
func (s *SpotifyService) doRequest(ctx context.Context, op, method, endpoint string, body, result any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordCatalogRequest(op, start, err) }()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	return s.policy.Do(ctx, s.sleep, func() error {
		return s.attempt(ctx, op, method, endpoint, payload, result)
	})
}

func (s *SpotifyService) attempt(ctx context.Context, op, method, endpoint string, payload []byte, result any) error {
	client, err := s.client()
	if err != nil {
		return &APIError{Op: op, Kind: KindAuth, Err: err}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			s.latch(err)
			apiErr := &APIError{Op: op, Kind: KindAuth, Err: err}
			if retrieveErr.Response != nil {
				apiErr.Status = retrieveErr.Response.StatusCode
			}
			return apiErr
		}
		return &APIError{Op: op, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classify(op, resp)
		if apiErr.Kind == KindAuth {
			s.latch(apiErr)
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &APIError{Op: op, Kind: KindTransient, Status: resp.StatusCode, Message: "failed to decode response", Err: err}
		}
	}
	return nil
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, "profile", http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Playlist retrieves playlist metadata by ID.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	endpoint := fmt.Sprintf("/playlists/%s?fields=%s", url.PathEscape(playlistID), url.QueryEscape("id,name,public,owner,tracks.total"))

	var playlist SpotifyPlaylist
	if err := s.doRequest(ctx, "playlist", http.MethodGet, endpoint, nil, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// Search runs a track search and returns up to limit matches in catalog order.
func (s *SpotifyService) Search(ctx context.Context, query string, limit int) ([]models.CatalogMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty search query", shared.ErrInvalidInput)
	}
	limit = min(max(limit, 1), 50)

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", fmt.Sprint(limit))

	var response spotifySearch
	if err := s.doRequest(ctx, "search", http.MethodGet, "/search?"+q.Encode(), nil, &response); err != nil {
		return nil, err
	}

	matches := make([]models.CatalogMatch, 0, len(response.Tracks.Items))
	for _, t := range response.Tracks.Items {
		if t.ID == "" {
			continue
		}
		matches = append(matches, t.Match())
	}
	return matches, nil
}

// AddItems appends uris to the end of the playlist.
func (s *SpotifyService) AddItems(ctx context.Context, playlistID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	body := map[string]any{"uris": uris}
	return s.doRequest(ctx, "add", http.MethodPost, tracksEndpoint(playlistID), body, nil)
}

// RemoveAtPositions removes uri at the given playlist positions only.
func (s *SpotifyService) RemoveAtPositions(ctx context.Context, playlistID, uri string, positions []int) error {
	body := map[string]any{"tracks": []trackRef{{URI: uri, Positions: positions}}}
	return s.doRequest(ctx, "remove", http.MethodDelete, tracksEndpoint(playlistID), body, nil)
}

// RemoveAll removes every occurrence of each uri.
func (s *SpotifyService) RemoveAll(ctx context.Context, playlistID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	refs := make([]trackRef, 0, len(uris))
	for _, u := range uris {
		refs = append(refs, trackRef{URI: u})
	}
	return s.doRequest(ctx, "remove_all", http.MethodDelete, tracksEndpoint(playlistID), map[string]any{"tracks": refs}, nil)
}

// PlaylistItems reads one page of playlist entries.
func (s *SpotifyService) PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (*PlaylistPage, error) {
	limit = min(max(limit, 1), 100)
	endpoint := fmt.Sprintf("%s?limit=%d&offset=%d", tracksEndpoint(playlistID), limit, offset)

	var response spotifyPlaylistTracks
	if err := s.doRequest(ctx, "items", http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	page := &PlaylistPage{
		Total:  response.Total,
		Offset: response.Offset,
		Limit:  response.Limit,
		Next:   response.Next != nil,
		Items:  make([]PlaylistEntry, 0, len(response.Items)),
	}
	for i, item := range response.Items {
		entry := PlaylistEntry{Position: response.Offset + i}
		if item.Track != nil {
			m := item.Track.Match()
			entry.CatalogID = m.CatalogID
			entry.URI = m.URI
			entry.Title = m.CanonicalTitle
			entry.Artists = m.CanonicalArtists
		}
		page.Items = append(page.Items, entry)
	}
	return page, nil
}

// PlaylistSize returns the playlist's total item count.
func (s *SpotifyService) PlaylistSize(ctx context.Context, playlistID string) (int, error) {
	endpoint := tracksEndpoint(playlistID) + "?limit=1&fields=total"

	var response struct {
		Total int `json:"total"`
	}
	if err := s.doRequest(ctx, "size", http.MethodGet, endpoint, nil, &response); err != nil {
		return 0, err
	}
	return response.Total, nil
}

func tracksEndpoint(playlistID string) string {
	return "/playlists/" + url.PathEscape(playlistID) + "/tracks"
}

// refreshableTokenSource reports each new access token to callback.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}
