// package events implements the in-process publish/subscribe bus the engine reports through
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/onair/internal/shared"
)

// EventType enumerates event categories.
type EventType string

const (
	StateChanged   EventType = "state.changed"
	Log            EventType = "log"
	TrackDetected  EventType = "track.detected"
	TrackAdded     EventType = "track.added"
	TrackFailed    EventType = "track.failed"
	QueueChanged   EventType = "queue.changed"
	AuditCompleted EventType = "audit.completed"
	DailySummary   EventType = "summary.daily"
	ExportWritten  EventType = "export.written"
	TickCompleted  EventType = "tick.completed"
)

// Event is a single notification.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and the current time.
func New(t EventType, message string, data map[string]any) Event {
	return Event{
		ID:      shared.GenerateID(),
		Type:    t,
		Time:    time.Now(),
		Message: message,
		Data:    data,
	}
}

// Subscriber receives events.
type Subscriber chan Event

const subscriberBuffer = 64

type subscription struct {
	ch    Subscriber
	types map[EventType]struct{}
}

func (s subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is a non-blocking fan-out: slow subscribers lose events rather than stall publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	closed  bool
	dropped atomic.Uint64
	onDrop  func(Event)
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnDrop registers a callback invoked whenever an event could not be delivered to a subscriber.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a subscriber for the given types. No types means every type.
func (b *Bus) Subscribe(types ...EventType) Subscriber {
	sub := subscription{ch: make(Subscriber, subscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish sends e to all interested subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = shared.GenerateID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.ch == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
