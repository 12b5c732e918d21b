package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/metrics"
)

const (
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// EventsHandler streams bus events to websocket clients as JSON text frames.
//
// Clients may narrow the stream with ?types=track.added,state.changed.
type EventsHandler struct {
	bus          *events.Bus
	logger       *log.Logger
	pingInterval time.Duration
}

func NewEventsHandler(bus *events.Bus, logger *log.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger, pingInterval: pingInterval}
}

func (h *EventsHandler) Routes() []string {
	return []string{"GET /ws/events"}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so nothing published after it is missed
	sub := h.bus.Subscribe(parseEventTypes(r.URL.Query().Get("types"))...)
	defer h.bus.Unsubscribe(sub)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	metrics.EventSubscribers.Inc()
	defer metrics.EventSubscribers.Dec()

	// client frames are ignored; CloseRead cancels ctx once the peer goes away
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := h.ping(ctx, conn); err != nil {
				h.logger.Debug("websocket ping failed", "error", err)
				return
			}
		case e, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *EventsHandler) ping(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Ping(ctx)
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	var types []events.EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, events.EventType(part))
		}
	}
	return types
}
