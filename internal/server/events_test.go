package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/desertthunder/onair/internal/events"
)

func dialEvents(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	return e
}

func TestEventsHandler(t *testing.T) {
	t.Run("streams every event", func(t *testing.T) {
		bus := events.NewBus()
		srv := httptest.NewServer(NewHandler(Options{Engine: newFakeEngine(), Bus: bus, Logger: quietLogger()}))
		defer srv.Close()

		conn := dialEvents(t, srv, "")
		bus.Publish(events.New(events.TrackAdded, "added", map[string]any{"catalog_id": "c1"}))
		bus.Publish(events.New(events.Log, "hello", nil))

		first := readEvent(t, conn)
		if first.Type != events.TrackAdded || first.Data["catalog_id"] != "c1" {
			t.Errorf("unexpected event %+v", first)
		}
		if second := readEvent(t, conn); second.Type != events.Log {
			t.Errorf("unexpected event %+v", second)
		}
	})

	t.Run("filters by type", func(t *testing.T) {
		bus := events.NewBus()
		srv := httptest.NewServer(NewHandler(Options{Engine: newFakeEngine(), Bus: bus, Logger: quietLogger()}))
		defer srv.Close()

		conn := dialEvents(t, srv, "?types=state.changed")
		bus.Publish(events.New(events.Log, "ignored", nil))
		bus.Publish(events.New(events.StateChanged, "paused", nil))

		if e := readEvent(t, conn); e.Type != events.StateChanged {
			t.Errorf("expected only state changes, got %+v", e)
		}
	})

	t.Run("closes when the bus closes", func(t *testing.T) {
		bus := events.NewBus()
		srv := httptest.NewServer(NewHandler(Options{Engine: newFakeEngine(), Bus: bus, Logger: quietLogger()}))
		defer srv.Close()

		conn := dialEvents(t, srv, "")
		bus.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		if websocket.CloseStatus(err) != websocket.StatusGoingAway {
			t.Errorf("expected going away, got %v", err)
		}
	})
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes(" track.added, ,log")
	if len(got) != 2 || got[0] != events.TrackAdded || got[1] != events.Log {
		t.Errorf("unexpected types %v", got)
	}
	if parseEventTypes("") != nil {
		t.Error("empty query should mean every type")
	}
}
