// Package metrics holds the Prometheus collectors for the playlist engine.
//
// Collectors register on the default registry and are served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TracksDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onair_tracks_detected_total",
			Help: "Total number of distinct plays read from the feed",
		},
	)

	TracksAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onair_tracks_added_total",
			Help: "Total number of tracks added to the playlist",
		},
		[]string{"source"}, // feed, retry, audit
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onair_resolutions_total",
			Help: "Track resolutions by outcome",
		},
		[]string{"outcome"}, // found, not_found, transient, permanent
	)

	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onair_catalog_requests_total",
			Help: "Catalog API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onair_catalog_request_duration_seconds",
			Help:    "Duration of catalog API calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	QueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onair_queue_drops_total",
			Help: "Failed tracks dropped because the retry queue was full",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onair_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onair_feed_reconnects_total",
			Help: "Total number of feed connection attempts after a failure",
		},
	)

	DuplicatesRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onair_duplicates_repaired_total",
			Help: "Duplicate playlist entries collapsed by the audit",
		},
	)

	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_retry_queue_size",
			Help: "Current number of items in the retry queue",
		},
	)

	RecentIDs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_recent_ids",
			Help: "Current number of remembered catalog ids",
		},
	)

	PlaylistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_playlist_size",
			Help: "Last observed playlist size",
		},
	)

	ServiceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onair_service_state",
			Help: "1 for the current service state, 0 otherwise",
		},
		[]string{"state"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onair_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onair_http_requests_total",
			Help: "Requests served by the admin and status surface",
		},
		[]string{"method", "status"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_event_subscribers",
			Help: "Open /ws/events connections",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onair_tick_duration_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

var states = []string{"running", "paused", "outside_hours", "manual_override"}

// SetServiceState sets the gauge for current and zeroes the others.
func SetServiceState(current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		ServiceState.WithLabelValues(s).Set(v)
	}
}

// RecordCatalogRequest records one catalog operation.
func RecordCatalogRequest(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CatalogRequests.WithLabelValues(operation, outcome).Inc()
	CatalogRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
