package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"nhooyr.io/websocket"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/feed"
	"github.com/desertthunder/onair/internal/ui"
)

// Watch prints detections from the feed until interrupted, or with --events tails a running
// server's event stream.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Bool("events") {
		return r.watchEvents(ctx, r.serverURL(cmd), cmd.StringSlice("type"))
	}
	return r.watchFeed(ctx)
}

func (r *Runner) watchFeed(ctx context.Context) error {
	serviceID, err := r.resolveServiceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve feed service: %w", err)
	}

	listener := feed.New(feed.NewOptions(r.config.Feed, serviceID, r.logger))
	defer listener.Close()

	r.writePlain("→ Listening to %s (service %s), Ctrl+C to stop\n", r.config.Feed.Station, serviceID)

	last := ""
	for track, err := range listener.All(ctx) {
		if err != nil {
			r.logger.Warn("feed error", "error", err, "retry_in", listener.RetryIn())
			continue
		}
		if track.SourceTrackID == last {
			continue
		}
		last = track.SourceTrackID
		r.writePlain("♪ %s - %s  [%s]\n", track.Artist, track.Title, track.SourceTrackID)
	}
	return nil
}

// eventsURL turns the server base URL into the websocket endpoint, keeping any type filter.
func eventsURL(base string, types []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	if len(types) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(types, ",")}}.Encode()
	}
	return u.String(), nil
}

func (r *Runner) watchEvents(ctx context.Context, base string, types []string) error {
	endpoint, err := eventsURL(base, types)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPClient: r.httpClient})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	r.logger.Debug("streaming events", "url", endpoint)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusGoingAway {
				r.writePlain("server shutting down\n")
				return nil
			}
			return err
		}

		var e events.Event
		if err := json.Unmarshal(data, &e); err != nil {
			r.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		if err := r.writePlain("%s\n", ui.RenderEvent(e)); err != nil {
			return err
		}
	}
}
