// package models defines the data model shared by the engine, its stores and its HTTP surface
package models

import (
	"fmt"
	"strings"
	"time"
)

// DetectedTrack is raw now-playing metadata as read from the feed.
type DetectedTrack struct {
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	SourceTrackID string `json:"source_track_id"`
}

// Valid reports whether both title and artist are non-empty after trimming.
func (d DetectedTrack) Valid() bool {
	return strings.TrimSpace(d.Title) != "" && strings.TrimSpace(d.Artist) != ""
}

func (d DetectedTrack) String() string {
	return fmt.Sprintf("%q by %q", d.Title, d.Artist)
}

// CatalogMatch is a resolved catalog record. Immutable once produced.
type CatalogMatch struct {
	CatalogID        string   `json:"catalog_id"`
	URI              string   `json:"uri"`
	CanonicalTitle   string   `json:"canonical_title"`
	CanonicalArtists []string `json:"canonical_artists"`
	ReleaseDate      string   `json:"release_date,omitempty"`
	ArtworkURL       string   `json:"artwork_url,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// ArtistLine joins the canonical artists with ", ".
func (m CatalogMatch) ArtistLine() string {
	return strings.Join(m.CanonicalArtists, ", ")
}

// QueueItem is a detection waiting for another resolution attempt.
type QueueItem struct {
	Title         string    `json:"title"`
	Artist        string    `json:"artist"`
	SourceTrackID string    `json:"source_track_id"`
	Attempts      int       `json:"attempts"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}

// Track returns the detection this item was queued for.
func (q QueueItem) Track() DetectedTrack {
	return DetectedTrack{Title: q.Title, Artist: q.Artist, SourceTrackID: q.SourceTrackID}
}

// AddSource names the path that produced an [AddedRecord].
type AddSource string

const (
	SourceFeed  AddSource = "feed"
	SourceRetry AddSource = "retry"
	SourceAudit AddSource = "audit"
)

// AddedRecord is an append-only daily log entry for a successful add.
type AddedRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	RadioTitle    string    `json:"radio_title"`
	RadioArtist   string    `json:"radio_artist"`
	CatalogID     string    `json:"catalog_id"`
	CatalogTitle  string    `json:"catalog_title"`
	CatalogArtist string    `json:"catalog_artist"`
	ReleaseDate   string    `json:"release_date,omitempty"`
	ArtworkURL    string    `json:"artwork_url,omitempty"`
	Source        AddSource `json:"source"`
}

// FailureRecord is an append-only daily log entry for a track that could not be added.
type FailureRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	RadioTitle  string    `json:"radio_title"`
	RadioArtist string    `json:"radio_artist"`
	Reason      string    `json:"reason"`
}

// State is the operating state of the engine.
type State string

const (
	StateRunning        State = "running"
	StatePaused         State = "paused"
	StateOutsideHours   State = "outside_hours"
	StateManualOverride State = "manual_override"
)

// Active reports whether monitoring runs in this state.
func (s State) Active() bool {
	return s == StateRunning || s == StateManualOverride
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateRunning, StatePaused, StateOutsideHours, StateManualOverride:
		return true
	}
	return false
}

// ServiceState is the current state with the reason it was entered.
type ServiceState struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
}

// TransitionSource names who asked for a transition.
type TransitionSource string

const (
	BySchedule TransitionSource = "scheduler"
	ByAdmin    TransitionSource = "admin"
	ByStartup  TransitionSource = "startup"
)

// StateTransition is one entry of the append-only transition log.
type StateTransition struct {
	ID        string           `json:"id"`
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	From      State            `json:"from_state"`
	To        State            `json:"to_state"`
	Reason    string           `json:"reason"`
	Source    TransitionSource `json:"source"`
}

// DailyFlags govern once-per-day side effects.
type DailyFlags struct {
	DateOfLastRollover string `json:"date_of_last_rollover"` // YYYY-MM-DD
	SummarySentToday   bool   `json:"summary_sent_today"`
	LastOverrideReset  string `json:"last_override_reset"` // YYYY-MM-DD
	OverrideSet        bool   `json:"override_set"`
	PausedOutsideHours bool   `json:"paused_outside_hours"`
}

// EngineState is the part of the engine that is persisted besides the lists.
type EngineState struct {
	Service           ServiceState `json:"service"`
	Flags             DailyFlags   `json:"flags"`
	LastSourceTrackID string       `json:"last_source_track_id"`
	LastTransitionSeq int64        `json:"last_transition_seq"`
}

// DailyStats are the counters shown on the status surface.
type DailyStats struct {
	Date        string `json:"date"`
	AddedCount  int    `json:"added_count"`
	FailedCount int    `json:"failed_count"`
	QueueSize   int    `json:"queue_size"`
	RecentCount int    `json:"recent_count"`
}

// CatalogHealth reports whether resolution can currently run.
type CatalogHealth struct {
	Authenticated bool   `json:"authenticated"`
	Breaker       string `json:"breaker"`
	Error         string `json:"error,omitempty"`
}

// Snapshot is the read model returned by the status query.
type Snapshot struct {
	Service       ServiceState      `json:"service"`
	QueueSize     int               `json:"queue_size"`
	Queue         []QueueItem       `json:"queue"`
	RecentIDs     []string          `json:"recent_ids"`
	Added         []AddedRecord     `json:"added"`
	Failed        []FailureRecord   `json:"failed"`
	Stats         DailyStats        `json:"stats"`
	Transitions   []StateTransition `json:"transitions"`
	LastDetection *DetectedTrack    `json:"last_detection,omitempty"`
	LastTick      time.Time         `json:"last_tick"`
	NextAudit     time.Time         `json:"next_audit"`
	Catalog       CatalogHealth     `json:"catalog"`
	InWindow      bool              `json:"in_window"`
}

// DailySummary is the flushed record of one day.
type DailySummary struct {
	ID          string          `json:"id"`
	Sequence    int             `json:"sequence"`
	Date        string          `json:"date"`
	Added       []AddedRecord   `json:"added"`
	Failed      []FailureRecord `json:"failed"`
	AddedCount  int             `json:"added_count"`
	FailedCount int             `json:"failed_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DateKey formats t as the YYYY-MM-DD key used for daily records.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
