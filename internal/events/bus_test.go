package events

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscriber) Event {
	t.Helper()
	select {
	case e, ok := <-sub:
		if !ok {
			t.Fatal("subscriber closed unexpectedly")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBus(t *testing.T) {
	t.Run("Publish delivers to matching subscribers", func(t *testing.T) {
		bus := NewBus()
		states := bus.Subscribe(StateChanged)
		all := bus.Subscribe()

		bus.Publish(New(StateChanged, "paused", map[string]any{"to": "paused"}))
		bus.Publish(New(Log, "hello", nil))

		if e := receive(t, states); e.Type != StateChanged || e.Message != "paused" {
			t.Errorf("unexpected event %+v", e)
		}

		select {
		case e := <-states:
			t.Errorf("state subscriber should not get %s", e.Type)
		default:
		}

		first, second := receive(t, all), receive(t, all)
		if first.Type != StateChanged || second.Type != Log {
			t.Errorf("expected publish order, got %s then %s", first.Type, second.Type)
		}
	})

	t.Run("Publish fills id and time", func(t *testing.T) {
		bus := NewBus()
		sub := bus.Subscribe()

		bus.Publish(Event{Type: Log, Message: "bare"})
		e := receive(t, sub)
		if e.ID == "" || e.Time.IsZero() {
			t.Errorf("expected id and time to be set, got %+v", e)
		}
	})

	t.Run("Publish never blocks on a full subscriber", func(t *testing.T) {
		bus := NewBus()
		_ = bus.Subscribe()

		var dropped int
		bus.OnDrop(func(Event) { dropped++ })

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBuffer+10; i++ {
				bus.Publish(New(Log, "spam", nil))
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked")
		}

		if bus.Dropped() != 10 || dropped != 10 {
			t.Errorf("expected 10 dropped, got %d (callback %d)", bus.Dropped(), dropped)
		}
	})

	t.Run("Unsubscribe closes the channel", func(t *testing.T) {
		bus := NewBus()
		sub := bus.Subscribe()
		bus.Unsubscribe(sub)

		if _, ok := <-sub; ok {
			t.Error("expected closed channel")
		}

		bus.Publish(New(Log, "after", nil))
	})

	t.Run("Close", func(t *testing.T) {
		bus := NewBus()
		sub := bus.Subscribe()
		bus.Close()
		bus.Close()

		if _, ok := <-sub; ok {
			t.Error("expected closed channel after Close")
		}

		late := bus.Subscribe()
		if _, ok := <-late; ok {
			t.Error("subscribing after Close should return a closed channel")
		}

		bus.Publish(New(Log, "ignored", nil))
	})
}
