// Package feed reads now-playing events from the station metadata websocket.
package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

const (
	DefaultURL = "wss://metadata.musicradio.com/v2/now-playing"

	minBackoff = time.Second
	maxBackoff = 32 * time.Second
)

// Options configures a [Listener].
type Options struct {
	URL              string
	ServiceID        string
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxReads         int
	Logger           *log.Logger

	// PollInterval spaces the subscriptions made by [Listener.All].
	PollInterval time.Duration

	// Now replaces time.Now for backoff bookkeeping.
	Now func() time.Time
}

// NewOptions builds listener options from the feed config. serviceID is the resolved station id.
func NewOptions(cfg shared.FeedConfig, serviceID string, logger *log.Logger) Options {
	return Options{
		URL:              cfg.URL,
		ServiceID:        serviceID,
		ReadTimeout:      cfg.ReadTimeout.Duration,
		HandshakeTimeout: cfg.HandshakeTimeout.Duration,
		MaxReads:         cfg.MaxReads,
		Logger:           logger,
	}
}

type subscribeAction struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

type subscribeMessage struct {
	Actions []subscribeAction `json:"actions"`
}

type nowPlaying struct {
	Type   string          `json:"type"`
	Title  string          `json:"title"`
	Artist string          `json:"artist"`
	ID     json.RawMessage `json:"id"`
}

type message struct {
	Type       string      `json:"type"`
	NowPlaying *nowPlaying `json:"now_playing"`
}

// Listener is a lazily connected subscription to one station's now-playing stream.
//
// It never sleeps inside [Listener.Next]: after a connection failure Next returns
// [shared.ErrFeedUnavailable] until the backoff has elapsed.
type Listener struct {
	opts   Options
	dialer *websocket.Dialer
	logger *log.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	backoff time.Duration
	retryAt time.Time
	closed  bool
}

// New creates a listener. No connection is made until the first [Listener.Next].
func New(opts Options) *Listener {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.MaxReads <= 0 {
		opts.MaxReads = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Listener{
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:  shared.WithLogger(opts.Logger, "component", "feed"),
		backoff: minBackoff,
	}
}

// Next subscribes, reads up to MaxReads messages and returns the first track announcement.
//
// Every call ends its subscription, so the next call starts from what the station is playing
// now rather than from frames that queued up in between. It returns nil, nil when no track
// arrived within the read budget.
func (l *Listener) Next(ctx context.Context) (*models.DetectedTrack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, fmt.Errorf("%w: listener closed", shared.ErrFeedUnavailable)
	}
	if l.conn == nil {
		if err := l.connect(ctx); err != nil {
			return nil, err
		}
	}

	conn := l.conn
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	for i := 0; i < l.opts.MaxReads; i++ {
		conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				l.drop()
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// a timed out connection cannot be read again
				l.logger.Debug("no track update this cycle", "service", l.opts.ServiceID)
				l.drop()
				return nil, nil
			}
			l.fail(err)
			return nil, fmt.Errorf("%w: read: %v", shared.ErrFeedUnavailable, err)
		}
		l.backoff = minBackoff

		track, ok := l.parse(raw)
		if ok {
			l.logger.Info("now playing", "title", track.Title, "artist", track.Artist, "id", track.SourceTrackID)
			l.drop()
			return track, nil
		}
	}

	l.logger.Debug("no track update this cycle", "service", l.opts.ServiceID, "reads", l.opts.MaxReads)
	l.drop()
	return nil, nil
}

func (l *Listener) parse(raw []byte) (*models.DetectedTrack, bool) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		l.logger.Warn("undecodable feed message", "error", err, "message", truncate(string(raw), 300))
		return nil, false
	}
	if msg.Type == "heartbeat" {
		l.logger.Debug("feed heartbeat")
		return nil, false
	}
	if msg.NowPlaying == nil || msg.NowPlaying.Type != "track" {
		return nil, false
	}

	track := models.DetectedTrack{
		Title:         strings.TrimSpace(msg.NowPlaying.Title),
		Artist:        strings.TrimSpace(msg.NowPlaying.Artist),
		SourceTrackID: rawID(msg.NowPlaying.ID),
	}
	if !track.Valid() {
		l.logger.Info("track message without title or artist", "type", msg.NowPlaying.Type)
		return nil, false
	}
	if track.SourceTrackID == "" {
		track.SourceTrackID = FallbackID(l.opts.ServiceID, track.Title, track.Artist)
	}
	return &track, true
}

// FallbackID builds a play id for messages that carry none.
func FallbackID(service, title, artist string) string {
	return strings.ReplaceAll(service+"_"+title+"_"+artist, " ", "_")
}

func rawID(b json.RawMessage) string {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return ""
	}
	return strings.TrimSpace(strings.Trim(s, `"`))
}

func (l *Listener) connect(ctx context.Context) error {
	now := l.opts.Now()
	if now.Before(l.retryAt) {
		return fmt.Errorf("%w: reconnecting in %s", shared.ErrFeedUnavailable, l.retryAt.Sub(now).Round(time.Second))
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		l.fail(err)
		if resp != nil {
			return fmt.Errorf("%w: dial failed (HTTP %d): %v", shared.ErrFeedUnavailable, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial: %v", shared.ErrFeedUnavailable, err)
	}

	sub := subscribeMessage{Actions: []subscribeAction{{Type: "subscribe", Service: l.opts.ServiceID}}}
	payload, err := json.Marshal(sub)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, payload)
	}
	if err != nil {
		conn.Close()
		l.fail(err)
		return fmt.Errorf("%w: subscribe: %v", shared.ErrFeedUnavailable, err)
	}

	l.conn = conn
	l.retryAt = time.Time{}
	l.logger.Debug("subscribed", "url", l.opts.URL, "service", l.opts.ServiceID)
	return nil
}

// fail drops the connection and schedules the next attempt with exponential backoff.
func (l *Listener) fail(err error) {
	l.drop()
	l.retryAt = l.opts.Now().Add(l.backoff)
	l.logger.Warn("feed connection failed", "error", err, "retry_in", l.backoff)
	l.backoff = min(l.backoff*2, maxBackoff)
	metrics.FeedReconnects.Inc()
}

func (l *Listener) drop() {
	if l.conn == nil {
		return
	}
	l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	l.conn.Close()
	l.conn = nil
}

// RetryIn returns how long until a reconnect will be attempted.
func (l *Listener) RetryIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := l.retryAt.Sub(l.opts.Now()); d > 0 {
		return d
	}
	return 0
}

// Close sends a close frame and releases the subscription. Further calls to Next fail.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop()
	l.closed = true
	return nil
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// All yields every detected track until ctx is done or the consumer stops.
//
// Polls are PollInterval apart. Connection errors are yielded and followed by a wait for the
// backoff; quiet cycles yield nothing.
func (l *Listener) All(ctx context.Context) iter.Seq2[*models.DetectedTrack, error] {
	return func(yield func(*models.DetectedTrack, error) bool) {
		for ctx.Err() == nil {
			track, err := l.Next(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil || !yield(nil, err) || l.isClosed() {
					return
				}
				wait := max(l.RetryIn(), 100*time.Millisecond)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			case track != nil:
				if !yield(track, nil) {
					return
				}
				fallthrough
			default:
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.opts.PollInterval):
				}
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
