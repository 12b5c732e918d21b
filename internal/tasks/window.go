package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
)

// AddResult says what [PlaylistWindow.Add] did.
type AddResult int

const (
	AddSkipped AddResult = iota
	Added
	AddDuplicate
	AddFailed
	AddCanceled
)

func (r AddResult) String() string {
	switch r {
	case AddSkipped:
		return "skipped"
	case Added:
		return "added"
	case AddDuplicate:
		return "duplicate"
	case AddFailed:
		return "failed"
	case AddCanceled:
		return "canceled"
	default:
		return ""
	}
}

// PlaylistWindow keeps the managed playlist at or below its maximum size, oldest first out.
type PlaylistWindow struct {
	catalog    services.Catalog
	manager    *state.Manager
	playlistID string
	maxSize    int
	logger     *log.Logger
}

// NewPlaylistWindow creates a window over playlistID.
func NewPlaylistWindow(catalog services.Catalog, manager *state.Manager, playlistID string, maxSize int, logger *log.Logger) *PlaylistWindow {
	if logger == nil {
		logger = log.Default()
	}
	return &PlaylistWindow{
		catalog:    catalog,
		manager:    manager,
		playlistID: playlistID,
		maxSize:    maxSize,
		logger:     shared.WithLogger(logger, "component", "window"),
	}
}

// Add appends match to the playlist unless it was added recently, evicting the oldest entry when full.
//
// Outcomes are recorded on the manager: successes as added records, failures with the raw catalog reason.
// A duplicate rejection counts as success without a record. An add cut short by ctx records nothing
// and returns [AddCanceled] so the caller can keep the track for later.
func (w *PlaylistWindow) Add(ctx context.Context, detection models.DetectedTrack, match models.CatalogMatch, source models.AddSource) (AddResult, error) {
	if w.manager.SeenCatalogID(match.CatalogID) {
		w.logger.Info("already added recently", "id", match.CatalogID, "title", match.CanonicalTitle)
		return AddSkipped, nil
	}

	w.evict(ctx)

	uri := match.URI
	if uri == "" {
		uri = services.TrackURI(match.CatalogID)
	}

	err := w.catalog.AddItems(ctx, w.playlistID, []string{uri})
	switch {
	case err == nil:
		w.manager.RememberCatalogID(match.CatalogID)
		w.manager.RecordAdded(models.AddedRecord{
			Timestamp:     w.manager.Now(),
			RadioTitle:    detection.Title,
			RadioArtist:   detection.Artist,
			CatalogID:     match.CatalogID,
			CatalogTitle:  match.CanonicalTitle,
			CatalogArtist: match.ArtistLine(),
			ReleaseDate:   match.ReleaseDate,
			ArtworkURL:    match.ArtworkURL,
			Source:        source,
		})
		metrics.TracksAdded.WithLabelValues(string(source)).Inc()
		w.logger.Info("added to playlist", "title", match.CanonicalTitle, "artists", match.ArtistLine(), "source", source)
		return Added, nil
	case errors.Is(err, shared.ErrDuplicate):
		w.manager.RememberCatalogID(match.CatalogID)
		w.logger.Info("playlist already holds track", "id", match.CatalogID)
		return AddDuplicate, nil
	case ctx.Err() != nil:
		w.logger.Warn("add interrupted", "title", match.CanonicalTitle, "error", err)
		return AddCanceled, ctx.Err()
	default:
		w.manager.RecordFailure(models.FailureRecord{
			Timestamp:   w.manager.Now(),
			RadioTitle:  detection.Title,
			RadioArtist: detection.Artist,
			Reason:      err.Error(),
		})
		w.logger.Error("add failed", "title", match.CanonicalTitle, "error", err)
		return AddFailed, fmt.Errorf("add %s: %w", match.CatalogID, err)
	}
}

// evict removes the entry at position 0 when the playlist is full. Failures are logged only.
func (w *PlaylistWindow) evict(ctx context.Context) {
	size, err := w.catalog.PlaylistSize(ctx, w.playlistID)
	if err != nil {
		w.logger.Warn("could not read playlist size", "error", err)
		return
	}
	metrics.PlaylistSize.Set(float64(size))
	if size < w.maxSize {
		return
	}

	page, err := w.catalog.PlaylistItems(ctx, w.playlistID, 1, 0)
	if err != nil || len(page.Items) == 0 {
		w.logger.Warn("could not read oldest entry", "size", size, "error", err)
		return
	}
	oldest := page.Items[0]
	if oldest.URI == "" {
		w.logger.Warn("oldest entry has no uri", "position", oldest.Position)
		return
	}

	if err := w.catalog.RemoveAtPositions(ctx, w.playlistID, oldest.URI, []int{0}); err != nil {
		w.logger.Warn("could not remove oldest entry", "uri", oldest.URI, "error", err)
		return
	}
	metrics.PlaylistSize.Set(float64(size - 1))
	w.logger.Info("removed oldest entry", "title", oldest.Title, "size", size)
}
