package services

import (
	"context"

	"github.com/desertthunder/onair/internal/models"
)

// Catalog is the music catalog and playlist API the engine writes to.
//
// Every method returns errors classified as [APIError] (or wrapping the shared sentinels) so callers
// can decide between retrying, queueing and recording a failure.
type Catalog interface {
	// Search returns up to limit matches for a catalog query, best first.
	Search(ctx context.Context, query string, limit int) ([]models.CatalogMatch, error)

	// AddItems appends uris to the playlist.
	AddItems(ctx context.Context, playlistID string, uris []string) error

	// RemoveAtPositions removes uri only at the given positions.
	RemoveAtPositions(ctx context.Context, playlistID, uri string, positions []int) error

	// RemoveAll removes every occurrence of each uri.
	RemoveAll(ctx context.Context, playlistID string, uris []string) error

	// PlaylistItems reads one page of the playlist.
	PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (*PlaylistPage, error)

	// PlaylistSize returns the number of items in the playlist.
	PlaylistSize(ctx context.Context, playlistID string) (int, error)

	// Reauthenticate reloads stored credentials after an auth failure.
	Reauthenticate(ctx context.Context) error

	// Healthy returns a non-nil error while the client cannot serve requests.
	Healthy() error
}

// PlaylistPage is one page of playlist entries.
type PlaylistPage struct {
	Total  int
	Offset int
	Limit  int
	Next   bool
	Items  []PlaylistEntry
}

// PlaylistEntry is a playlist item at an absolute position. Local or removed tracks have an empty CatalogID.
type PlaylistEntry struct {
	Position  int
	CatalogID string
	URI       string
	Title     string
	Artists   []string
}
