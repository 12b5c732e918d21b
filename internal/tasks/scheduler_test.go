package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/formatter"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
	tu "github.com/desertthunder/onair/internal/testing"
)

type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  state.Persisted
	err   error
}

func (m *memoryStore) Save(p state.Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.last = p
	return m.err
}

type memoryHistory struct {
	mu          sync.Mutex
	transitions []models.StateTransition
	summaries   []models.DailySummary
}

func (m *memoryHistory) AppendTransitions(_ context.Context, ts []models.StateTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, ts...)
	return nil
}

func (m *memoryHistory) LastTransitionSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.transitions) == 0 {
		return 0, nil
	}
	return m.transitions[len(m.transitions)-1].Seq, nil
}

func (m *memoryHistory) SaveSummary(_ context.Context, s *models.DailySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Sequence = len(m.summaries) + 1
	m.summaries = append(m.summaries, *s)
	return nil
}

type panickingFeed struct{}

func (panickingFeed) Next(context.Context) (*models.DetectedTrack, error) { panic("boom") }
func (panickingFeed) Close() error                                        { return nil }

type harness struct {
	clock     *tu.FakeClock
	bus       *events.Bus
	manager   *state.Manager
	catalog   *tu.MockCatalog
	feed      *tu.MockFeed
	store     *memoryStore
	history   *memoryHistory
	exports   []formatter.DailyExport
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts SchedulerOptions) *harness {
	t.Helper()
	h := &harness{
		clock:   tu.NewFakeClock(day(1, 10)),
		bus:     events.NewBus(),
		catalog: tu.NewMockCatalog(),
		feed:    tu.NewMockFeed(),
		store:   &memoryStore{},
		history: &memoryHistory{},
	}
	t.Cleanup(h.bus.Close)
	h.manager = newManager(h.clock, h.bus)

	rec := &recordedSleeps{}
	if opts.CheckInterval == 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.AuditInterval == 0 {
		opts.AuditInterval = time.Hour
	}
	opts.Logger = quietLogger()

	h.scheduler = NewScheduler(Deps{
		Manager:  h.manager,
		Feed:     h.feed,
		Catalog:  h.catalog,
		Resolver: NewResolver(h.catalog, 0, quietLogger()),
		Window:   NewPlaylistWindow(h.catalog, h.manager, "pl", 10, quietLogger()),
		Auditor: NewDuplicateAuditor(h.catalog, h.manager, AuditOptions{
			PlaylistID: "pl",
			Sleep:      rec.sleep,
			Logger:     quietLogger(),
		}),
		Store:   h.store,
		History: h.history,
		Export: func(e formatter.DailyExport) ([]string, error) {
			h.exports = append(h.exports, e)
			return []string{e.Date + ".md"}, nil
		},
		Bus: h.bus,
	}, opts)
	return h
}

func (h *harness) found(title, artist, id string) {
	h.catalog.Results[Query(title, artist)] = []models.CatalogMatch{tu.Match(id, title, artist)}
}

func (h *harness) tick(t *testing.T) TickReport {
	t.Helper()
	report, err := h.scheduler.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	return report
}

func TestSchedulerTick(t *testing.T) {
	t.Run("adds a fresh detection", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.found("Wonderwall", "Oasis", "w1")
		h.feed.Push(detection("Wonderwall", "Oasis", "r1"))

		report := h.tick(t)
		if !report.Detected || !report.Processed || report.State != models.StateRunning {
			t.Errorf("unexpected report %+v", report)
		}
		if ids := h.catalog.IDs(); len(ids) != 1 || ids[0] != "w1" {
			t.Errorf("unexpected playlist %v", ids)
		}
		if h.store.saves != 1 || len(h.store.last.Added) != 1 {
			t.Errorf("expected a snapshot with one added record, got %d saves %+v", h.store.saves, h.store.last.Added)
		}
		if report.Next != time.Minute {
			t.Errorf("expected check interval, got %v", report.Next)
		}
	})

	t.Run("same play is handled once", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.found("Wonderwall", "Oasis", "w1")
		h.feed.Push(detection("Wonderwall", "Oasis", "r1"))
		h.feed.Push(detection("Wonderwall", "Oasis", "r1"))

		h.tick(t)
		report := h.tick(t)
		if !report.Detected || report.Processed {
			t.Errorf("unexpected report %+v", report)
		}
		if len(h.catalog.Adds) != 1 {
			t.Errorf("expected one add, got %d", len(h.catalog.Adds))
		}
	})

	t.Run("unresolved tracks are retried until exhausted", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.feed.Push(detection("Obscure", "Nobody", "r1"))
		h.tick(t)

		queue := h.manager.Export().Queue
		if len(queue) != 1 || queue[0].Attempts != 1 {
			t.Fatalf("expected one requeued item after the first retry, got %+v", queue)
		}

		h.found("Song B", "Band", "b1")
		h.feed.Push(detection("Song B", "Band", "r2"))
		h.tick(t)
		h.found("Song C", "Band", "c1")
		h.feed.Push(detection("Song C", "Band", "r3"))
		h.tick(t)

		if h.manager.QueueLen() != 0 {
			t.Errorf("expected empty queue, got %d", h.manager.QueueLen())
		}
		_, failed := h.manager.Today()
		if len(failed) != 1 || !strings.HasPrefix(failed[0].Reason, "exhausted retries") {
			t.Errorf("unexpected failures %+v", failed)
		}
	})

	t.Run("retry succeeds later", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{RetryEvery: 1})
		h.catalog.SearchErr = &services.APIError{Op: "search", Kind: services.KindTransient}
		h.feed.Push(detection("Song", "Band", "r1"))
		h.tick(t)

		h.catalog.SearchErr = nil
		h.found("Song", "Band", "s1")
		report := h.tick(t)
		if !report.Retried {
			t.Fatalf("expected a retry, got %+v", report)
		}
		added, _ := h.manager.Today()
		if len(added) != 1 || added[0].Source != models.SourceRetry {
			t.Errorf("unexpected added records %+v", added)
		}
	})

	t.Run("permanent failures are recorded immediately", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.catalog.SearchErr = &services.APIError{Op: "search", Kind: services.KindPermanent, Status: 400, Message: "bad query"}
		h.feed.Push(detection("Song", "Band", "r1"))
		h.tick(t)

		_, failed := h.manager.Today()
		if len(failed) != 1 || !strings.Contains(failed[0].Reason, "bad query") {
			t.Errorf("unexpected failures %+v", failed)
		}
		if h.manager.QueueLen() != 0 {
			t.Error("permanent failures must not be queued")
		}
	})

	t.Run("unhealthy catalog queues without searching", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.catalog.HealthErr = shared.ErrNotAuthenticated
		h.feed.Push(detection("Song", "Band", "r1"))
		h.tick(t)

		if len(h.catalog.Queries) != 0 {
			t.Errorf("expected no searches, got %v", h.catalog.Queries)
		}
		if h.manager.QueueLen() != 1 {
			t.Errorf("expected one queued item, got %d", h.manager.QueueLen())
		}
	})

	t.Run("interrupted retry keeps the item", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		if _, err := h.manager.EnqueueFailure(detection("Obscure", "Nobody", "r1")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := h.manager.EnqueueFailure(detection("Other", "Band", "r2")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		h.catalog.SearchFunc = func(string) ([]models.CatalogMatch, error) {
			cancel()
			return nil, ctx.Err()
		}

		if !h.scheduler.retryOne(ctx) {
			t.Fatal("expected a retry to be attempted")
		}
		queue := h.manager.Export().Queue
		if len(queue) != 2 || queue[0].SourceTrackID != "r1" || queue[0].Attempts != 0 {
			t.Errorf("expected r1 back at the head with no attempts used, got %+v", queue)
		}
		if _, failed := h.manager.Today(); len(failed) != 0 {
			t.Errorf("expected no failures, got %+v", failed)
		}
	})

	t.Run("interrupted detection is queued", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		h.catalog.SearchFunc = func(string) ([]models.CatalogMatch, error) {
			cancel()
			return nil, ctx.Err()
		}

		h.scheduler.process(ctx, detection("Song", "Band", "r1"))

		queue := h.manager.Export().Queue
		if len(queue) != 1 || queue[0].SourceTrackID != "r1" || queue[0].Attempts != 0 {
			t.Errorf("expected the detection to be queued, got %+v", queue)
		}
		if _, failed := h.manager.Today(); len(failed) != 0 {
			t.Errorf("expected no failures, got %+v", failed)
		}
	})

	t.Run("interrupted add is queued", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.found("Song", "Band", "s1")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		h.catalog.AddErr = context.Canceled

		h.scheduler.process(ctx, detection("Song", "Band", "r1"))

		if h.manager.QueueLen() != 1 {
			t.Errorf("expected one queued item, got %d", h.manager.QueueLen())
		}
		if _, failed := h.manager.Today(); len(failed) != 0 {
			t.Errorf("expected no failures, got %+v", failed)
		}
	})

	t.Run("paused skips monitoring", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{PausedBackoff: 5 * time.Minute})
		h.manager.Pause("maintenance")
		h.feed.Push(detection("Song", "Band", "r1"))

		report := h.tick(t)
		if report.State != models.StatePaused || report.Next != 5*time.Minute {
			t.Errorf("unexpected report %+v", report)
		}
		if h.feed.Calls != 0 {
			t.Errorf("feed must not be read while paused, got %d reads", h.feed.Calls)
		}
		if h.store.saves != 1 {
			t.Error("state should still be saved")
		}
	})

	t.Run("outside hours skips monitoring", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.clock.Set(day(1, 23).Add(30 * time.Minute))

		report := h.tick(t)
		if report.State != models.StateOutsideHours || h.feed.Calls != 0 {
			t.Errorf("unexpected report %+v (%d reads)", report, h.feed.Calls)
		}
		if len(h.history.transitions) != 1 || h.history.transitions[0].To != models.StateOutsideHours {
			t.Errorf("expected the transition in history, got %+v", h.history.transitions)
		}
	})

	t.Run("transitions are flushed once", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.manager.Pause("a")
		h.tick(t)
		h.manager.Resume("b")
		h.tick(t)
		h.tick(t)

		if len(h.history.transitions) != 2 {
			t.Fatalf("expected 2 transitions, got %d", len(h.history.transitions))
		}
		if h.history.transitions[0].Seq >= h.history.transitions[1].Seq {
			t.Error("transitions out of order")
		}
	})

	t.Run("reauth signal", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.catalog.HealthErr = shared.ErrNotAuthenticated
		h.manager.RequestReauth()
		h.tick(t)

		if h.catalog.Reauths != 1 || h.catalog.Healthy() != nil {
			t.Errorf("expected a successful reauth, got %d", h.catalog.Reauths)
		}
	})

	t.Run("first active tick audits", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.catalog.AddItems(context.Background(), "pl", []string{services.TrackURI("a"), services.TrackURI("a")})

		report := h.tick(t)
		if !report.Audited {
			t.Fatal("expected an audit")
		}
		if ids := h.catalog.IDs(); len(ids) != 1 {
			t.Errorf("expected duplicates collapsed, got %v", ids)
		}

		if h.tick(t).Audited {
			t.Error("audit should wait for its interval")
		}
		h.manager.RequestAudit()
		if !h.tick(t).Audited {
			t.Error("admin request should force an audit")
		}
		if snap := h.manager.Snapshot(); !snap.NextAudit.Equal(day(1, 11)) {
			t.Errorf("unexpected next audit %v", snap.NextAudit)
		}
	})

	t.Run("rollover closes the day", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{ExportOnRollover: true})
		h.found("Wonderwall", "Oasis", "w1")
		h.feed.Push(detection("Wonderwall", "Oasis", "r1"))
		h.tick(t)

		sub := h.bus.Subscribe(events.DailySummary)
		h.clock.Set(day(2, 10))
		h.tick(t)

		if len(h.history.summaries) != 1 {
			t.Fatalf("expected one summary, got %d", len(h.history.summaries))
		}
		s := h.history.summaries[0]
		if s.Date != "2025-03-01" || s.AddedCount != 1 || s.Sequence != 1 {
			t.Errorf("unexpected summary %+v", s)
		}
		if len(h.exports) != 1 || h.exports[0].Date != "2025-03-01" {
			t.Errorf("unexpected exports %+v", h.exports)
		}
		if added, _ := h.manager.Today(); len(added) != 0 {
			t.Errorf("expected cleared lists, got %d", len(added))
		}
		select {
		case e := <-sub:
			if e.Data["added_count"] != 1 {
				t.Errorf("unexpected event %+v", e)
			}
		default:
			t.Error("expected a daily summary event")
		}
	})

	t.Run("export signal writes today", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.manager.RequestExport()
		h.tick(t)

		if len(h.exports) != 1 || h.exports[0].Date != "2025-03-01" {
			t.Errorf("unexpected exports %+v", h.exports)
		}
	})

	t.Run("save failure asks for backoff", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.store.err = errors.New("disk full")

		_, err := h.scheduler.Tick(context.Background())
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Errorf("expected save error, got %v", err)
		}
	})

	t.Run("panics are recovered", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		h.scheduler.Feed = panickingFeed{}
		sub := h.bus.Subscribe(events.Log)

		_, err := h.scheduler.Tick(context.Background())
		if err == nil || !strings.Contains(err.Error(), "panic in feed step") {
			t.Fatalf("expected recovered panic, got %v", err)
		}
		select {
		case e := <-sub:
			if e.Level != "error" || e.Data["phase"] != "feed" {
				t.Errorf("unexpected event %+v", e)
			}
		default:
			t.Error("expected an error event")
		}
	})
}

func TestSchedulerServe(t *testing.T) {
	h := newHarness(t, SchedulerOptions{CheckInterval: 10 * time.Millisecond})
	h.found("Wonderwall", "Oasis", "w1")
	h.feed.Push(detection("Wonderwall", "Oasis", "r1"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := h.scheduler.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !h.feed.Closed {
		t.Error("expected feed to be closed")
	}
	if h.store.saves < 2 || len(h.store.last.Added) != 1 {
		t.Errorf("expected final save with the added record, got %d saves", h.store.saves)
	}
	if h.scheduler.String() != "scheduler" {
		t.Errorf("unexpected service name %s", h.scheduler.String())
	}
}
