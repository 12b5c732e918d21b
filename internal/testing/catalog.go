package testing

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
)

// MockCatalog is an in-memory [services.Catalog] holding one playlist.
type MockCatalog struct {
	mu sync.Mutex

	// Results maps search queries to their matches. SearchFunc takes precedence when set.
	Results    map[string][]models.CatalogMatch
	SearchFunc func(query string) ([]models.CatalogMatch, error)

	SearchErr error
	AddErr    error
	RemoveErr error
	SizeErr   error
	ItemsErr  error
	HealthErr error
	ReauthErr error

	Queries []string
	Adds    [][]string
	Removes []string
	Reauths int

	items []string // uris in playlist order
}

// NewMockCatalog creates a catalog whose playlist already holds the given catalog ids.
func NewMockCatalog(ids ...string) *MockCatalog {
	m := &MockCatalog{Results: map[string][]models.CatalogMatch{}}
	for _, id := range ids {
		m.items = append(m.items, services.TrackURI(id))
	}
	return m
}

// Match builds a catalog match for id.
func Match(id, title string, artists ...string) models.CatalogMatch {
	return models.CatalogMatch{
		CatalogID:        id,
		URI:              services.TrackURI(id),
		CanonicalTitle:   title,
		CanonicalArtists: artists,
	}
}

// IDs returns the playlist's catalog ids in order.
func (m *MockCatalog) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.items))
	for i, uri := range m.items {
		ids[i] = idOf(uri)
	}
	return ids
}

func idOf(uri string) string {
	return strings.TrimPrefix(uri, "spotify:track:")
}

func (m *MockCatalog) Search(_ context.Context, query string, _ int) ([]models.CatalogMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.SearchFunc != nil {
		return m.SearchFunc(query)
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.Results[query], nil
}

func (m *MockCatalog) AddItems(_ context.Context, _ string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Adds = append(m.Adds, uris)
	if m.AddErr != nil {
		return m.AddErr
	}
	m.items = append(m.items, uris...)
	return nil
}

func (m *MockCatalog) RemoveAtPositions(_ context.Context, _ string, uri string, positions []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removes = append(m.Removes, uri)
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	kept := m.items[:0:0]
	for i, item := range m.items {
		if item == uri && slices.Contains(positions, i) {
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return nil
}

func (m *MockCatalog) RemoveAll(_ context.Context, _ string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removes = append(m.Removes, uris...)
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.items = slices.DeleteFunc(m.items, func(item string) bool { return slices.Contains(uris, item) })
	return nil
}

func (m *MockCatalog) PlaylistItems(_ context.Context, _ string, limit, offset int) (*services.PlaylistPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ItemsErr != nil {
		return nil, m.ItemsErr
	}
	end := min(offset+limit, len(m.items))
	page := &services.PlaylistPage{Total: len(m.items), Offset: offset, Limit: limit, Next: end < len(m.items)}
	for i := offset; i < end; i++ {
		page.Items = append(page.Items, services.PlaylistEntry{
			Position:  i,
			CatalogID: idOf(m.items[i]),
			URI:       m.items[i],
			Title:     "title " + idOf(m.items[i]),
		})
	}
	return page, nil
}

func (m *MockCatalog) PlaylistSize(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SizeErr != nil {
		return 0, m.SizeErr
	}
	return len(m.items), nil
}

func (m *MockCatalog) Reauthenticate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reauths++
	if m.ReauthErr == nil {
		m.HealthErr = nil
	}
	return m.ReauthErr
}

func (m *MockCatalog) Healthy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthErr
}

// FeedResult is one scripted answer of [MockFeed].
type FeedResult struct {
	Track *models.DetectedTrack
	Err   error
}

// MockFeed replays scripted results and then reports quiet cycles.
type MockFeed struct {
	mu      sync.Mutex
	results []FeedResult
	Calls   int
	Closed  bool
}

// NewMockFeed creates a feed that yields the given tracks in order.
func NewMockFeed(tracks ...models.DetectedTrack) *MockFeed {
	f := &MockFeed{}
	for _, t := range tracks {
		f.Push(t)
	}
	return f
}

// Push appends a detection.
func (f *MockFeed) Push(t models.DetectedTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, FeedResult{Track: &t})
}

// Fail appends an error result.
func (f *MockFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, FeedResult{Err: err})
}

func (f *MockFeed) Next(ctx context.Context) (*models.DetectedTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if len(f.results) == 0 {
		return nil, ctx.Err()
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.Track, r.Err
}

func (f *MockFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
