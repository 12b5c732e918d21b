// Package state owns every structure shared between the scheduler loop and the admin surface.
//
// All access goes through [Manager], which guards them with one mutex and only hands out copies.
// Network calls never happen while the lock is held.
package state

import (
	"sync"
	"time"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/models"
)

// Options configures a [Manager].
type Options struct {
	QueueSize      int
	MaxAttempts    int
	RecentCapacity int
	Window         Window
	ResetHour      int
	Clock          Clock
	Bus            *events.Bus
}

// Signals are admin requests the scheduler picks up at the start of its next tick.
type Signals struct {
	ForceCheck bool
	ForceAudit bool
	RetryOne   bool
	Export     bool
	Reauth     bool
}

// Any reports whether at least one signal is set.
func (s Signals) Any() bool {
	return s.ForceCheck || s.ForceAudit || s.RetryOne || s.Export || s.Reauth
}

// Persisted is everything the snapshot store writes.
type Persisted struct {
	RecentIDs []string
	Queue     []models.QueueItem
	Added     []models.AddedRecord
	Failed    []models.FailureRecord
	Engine    models.EngineState
}

// Rollover is the day that was closed by [Manager.CheckRollover].
type Rollover struct {
	Date   string
	Added  []models.AddedRecord
	Failed []models.FailureRecord
}

// Manager is the single lock-guarded owner of engine state.
type Manager struct {
	mu sync.Mutex

	clock   Clock
	bus     *events.Bus
	machine *Machine
	queue   *RetryQueue
	recent  *RecentIDs

	added  []models.AddedRecord
	failed []models.FailureRecord
	flags  models.DailyFlags

	lastSourceID  string
	lastDetection *models.DetectedTrack
	lastTick      time.Time
	nextAudit     time.Time

	signals Signals
	wake    chan struct{}
	health  func() models.CatalogHealth
}

// NewManager creates a manager in the running state with empty structures.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	m := &Manager{
		clock:   opts.Clock,
		bus:     opts.Bus,
		machine: NewMachine(opts.Window, opts.ResetHour, opts.Clock.Now()),
		queue:   NewRetryQueue(opts.QueueSize, opts.MaxAttempts),
		recent:  NewRecentIDs(opts.RecentCapacity),
		wake:    make(chan struct{}, 1),
	}
	m.machine.onTransition = m.publishTransition
	return m
}

// SetHealthSource registers the function used to fill [models.Snapshot.Catalog].
func (m *Manager) SetHealthSource(fn func() models.CatalogHealth) {
	m.mu.Lock()
	m.health = fn
	m.mu.Unlock()
}

// Now returns the manager clock's current time.
func (m *Manager) Now() time.Time { return m.clock.Now() }

// Current returns the current service state.
func (m *Manager) Current() models.ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

// Evaluate applies the daily reset and time window and returns the resulting state.
func (m *Manager) Evaluate() (models.ServiceState, []models.StateTransition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.machine.Evaluate(m.clock.Now())
	return m.machine.Current(), ts
}

// Transition requests an arbitrary state change checked against the transition table.
func (m *Manager) Transition(to models.State, reason string, source models.TransitionSource) (models.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Transition(to, reason, source, m.clock.Now())
}

// Pause moves the service to paused and wakes the scheduler so the change is saved promptly.
func (m *Manager) Pause(reason string) models.StateTransition {
	m.mu.Lock()
	t := m.machine.Pause(reason, models.ByAdmin, m.clock.Now())
	m.mu.Unlock()

	m.notify()
	return t
}

// Resume leaves paused and, when the state changed, signals an immediate check.
func (m *Manager) Resume(reason string) models.StateTransition {
	m.mu.Lock()
	t, forced := m.machine.Resume(reason, models.ByAdmin, m.clock.Now())
	if forced {
		m.signals.ForceCheck = true
	}
	m.mu.Unlock()

	if forced {
		m.notify()
	}
	return t
}

// RequestCheck asks the scheduler for an immediate feed check.
func (m *Manager) RequestCheck() { m.setSignal(func(s *Signals) { s.ForceCheck = true }) }

// RequestAudit asks the scheduler to run the duplicate audit on its next tick.
func (m *Manager) RequestAudit() { m.setSignal(func(s *Signals) { s.ForceAudit = true }) }

// RequestRetry asks the scheduler to retry one queued item on its next tick.
func (m *Manager) RequestRetry() { m.setSignal(func(s *Signals) { s.RetryOne = true }) }

// RequestExport asks the scheduler to write today's records to the export directory.
func (m *Manager) RequestExport() { m.setSignal(func(s *Signals) { s.Export = true }) }

// RequestReauth asks the scheduler to reload catalog credentials.
func (m *Manager) RequestReauth() { m.setSignal(func(s *Signals) { s.Reauth = true }) }

func (m *Manager) setSignal(fn func(*Signals)) {
	m.mu.Lock()
	fn(&m.signals)
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Wake fires after any admin signal is raised.
func (m *Manager) Wake() <-chan struct{} { return m.wake }

// TakeSignals returns and clears pending signals.
func (m *Manager) TakeSignals() Signals {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.signals
	m.signals = Signals{}
	return s
}

// MarkDetected records track as the latest play. It returns false when the
// source track id equals the previous detection, meaning the play was already handled.
func (m *Manager) MarkDetected(track models.DetectedTrack) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if track.SourceTrackID != "" && track.SourceTrackID == m.lastSourceID {
		return false
	}
	m.lastSourceID = track.SourceTrackID
	t := track
	m.lastDetection = &t
	return true
}

// SeenCatalogID reports whether id is in the recent set.
func (m *Manager) SeenCatalogID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recent.Contains(id)
}

// RememberCatalogID pushes id into the recent set.
func (m *Manager) RememberCatalogID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent.Push(id)
}

// EnqueueFailure queues track for later retry with zero attempts.
//
// A full queue returns an error wrapping shared.ErrQueueFull; the caller logs and drops the track.
func (m *Manager) EnqueueFailure(track models.DetectedTrack) (bool, error) {
	m.mu.Lock()
	added, err := m.queue.Enqueue(models.QueueItem{
		Title:         track.Title,
		Artist:        track.Artist,
		SourceTrackID: track.SourceTrackID,
		FirstSeenAt:   m.clock.Now(),
	})
	size := m.queue.Len()
	m.mu.Unlock()

	if added {
		m.publish(events.QueueChanged, "queued "+track.String()+" for retry", map[string]any{"size": size, "title": track.Title, "artist": track.Artist})
	}
	return added, err
}

// DequeueRetry removes the head of the queue and counts the attempt about to be made.
func (m *Manager) DequeueRetry() (models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue.Dequeue()
	if ok {
		item.Attempts++
	}
	return item, ok
}

// RequeueRetry returns a retried item to the tail.
func (m *Manager) RequeueRetry(item models.QueueItem) error {
	m.mu.Lock()
	err := m.queue.Requeue(item)
	size := m.queue.Len()
	m.mu.Unlock()

	if err == nil {
		m.publish(events.QueueChanged, "requeued "+item.Track().String(), map[string]any{"size": size, "attempts": item.Attempts})
	}
	return err
}

// ReturnRetry puts an interrupted item back at the head and gives back the attempt DequeueRetry counted.
func (m *Manager) ReturnRetry(item models.QueueItem) error {
	if item.Attempts > 0 {
		item.Attempts--
	}
	m.mu.Lock()
	err := m.queue.PushFront(item)
	m.mu.Unlock()
	return err
}

// Exhausted reports whether a retried item has used all its attempts.
func (m *Manager) Exhausted(item models.QueueItem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Exhausted(item)
}

// QueueLen returns the number of queued items.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// RecordAdded appends to today's added list.
func (m *Manager) RecordAdded(rec models.AddedRecord) {
	m.mu.Lock()
	m.added = append(m.added, rec)
	m.mu.Unlock()

	m.publish(events.TrackAdded, "added "+rec.RadioTitle+" by "+rec.RadioArtist, map[string]any{
		"catalog_id": rec.CatalogID,
		"title":      rec.CatalogTitle,
		"artist":     rec.CatalogArtist,
		"source":     string(rec.Source),
	})
}

// RecordFailure appends to today's failed list.
func (m *Manager) RecordFailure(rec models.FailureRecord) {
	m.mu.Lock()
	m.failed = append(m.failed, rec)
	m.mu.Unlock()

	m.publish(events.TrackFailed, "failed "+rec.RadioTitle+" by "+rec.RadioArtist, map[string]any{"reason": rec.Reason})
}

// Today returns copies of today's lists.
func (m *Manager) Today() (added []models.AddedRecord, failed []models.FailureRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AddedRecord(nil), m.added...), append([]models.FailureRecord(nil), m.failed...)
}

// CheckRollover closes the previous day when the local date has changed.
//
// The first call on a fresh manager only stamps today's date.
func (m *Manager) CheckRollover() (Rollover, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := models.DateKey(m.machine.window.local(m.clock.Now()))
	if m.flags.DateOfLastRollover == "" {
		m.flags.DateOfLastRollover = today
		return Rollover{}, false
	}
	if m.flags.DateOfLastRollover == today {
		return Rollover{}, false
	}

	r := Rollover{Date: m.flags.DateOfLastRollover, Added: m.added, Failed: m.failed}
	m.added, m.failed = nil, nil
	m.flags.DateOfLastRollover = today
	m.flags.SummarySentToday = false
	return r, true
}

// MarkSummarySent records that the daily summary for the current day has been emitted.
func (m *Manager) MarkSummarySent() {
	m.mu.Lock()
	m.flags.SummarySentToday = true
	m.mu.Unlock()
}

// SetLastTick stamps the completion time of a tick.
func (m *Manager) SetLastTick(t time.Time) {
	m.mu.Lock()
	m.lastTick = t
	m.mu.Unlock()
}

// SetNextAudit stamps when the duplicate audit is next due.
func (m *Manager) SetNextAudit(t time.Time) {
	m.mu.Lock()
	m.nextAudit = t
	m.mu.Unlock()
}

// InWindow reports whether the clock is inside the active window.
func (m *Manager) InWindow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.InWindow(m.clock.Now())
}

// Transitions returns up to limit most recent transitions.
func (m *Manager) Transitions(limit int) []models.StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.History(limit)
}

// TransitionsSince returns transitions with Seq greater than seq, in acceptance order.
func (m *Manager) TransitionsSince(seq int64) []models.StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Since(seq)
}

// Snapshot returns the status read model.
func (m *Manager) Snapshot() models.Snapshot {
	m.mu.Lock()
	now := m.clock.Now()
	snap := models.Snapshot{
		Service:     m.machine.Current(),
		QueueSize:   m.queue.Len(),
		Queue:       m.queue.Items(),
		RecentIDs:   m.recent.IDs(),
		Added:       append([]models.AddedRecord(nil), m.added...),
		Failed:      append([]models.FailureRecord(nil), m.failed...),
		Transitions: m.machine.History(20),
		LastTick:    m.lastTick,
		NextAudit:   m.nextAudit,
		InWindow:    m.machine.InWindow(now),
		Stats: models.DailyStats{
			Date:        models.DateKey(m.machine.window.local(now)),
			AddedCount:  len(m.added),
			FailedCount: len(m.failed),
			QueueSize:   m.queue.Len(),
			RecentCount: m.recent.Len(),
		},
	}
	if m.lastDetection != nil {
		d := *m.lastDetection
		snap.LastDetection = &d
	}
	health := m.health
	m.mu.Unlock()

	if health != nil {
		snap.Catalog = health()
	}
	return snap
}

// Export copies everything the snapshot store persists.
func (m *Manager) Export() Persisted {
	m.mu.Lock()
	defer m.mu.Unlock()

	override, pausedOff, lastReset := m.machine.flags()
	flags := m.flags
	flags.OverrideSet = override
	flags.PausedOutsideHours = pausedOff
	flags.LastOverrideReset = lastReset

	return Persisted{
		RecentIDs: m.recent.IDs(),
		Queue:     m.queue.Items(),
		Added:     append([]models.AddedRecord(nil), m.added...),
		Failed:    append([]models.FailureRecord(nil), m.failed...),
		Engine: models.EngineState{
			Service:           m.machine.Current(),
			Flags:             flags,
			LastSourceTrackID: m.lastSourceID,
			LastTransitionSeq: m.machine.Seq(),
		},
	}
}

// Restore loads persisted structures. Queue items beyond capacity are dropped and counted.
func (m *Manager) Restore(p Persisted) (dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent = NewRecentIDs(m.recent.Cap())
	for _, id := range p.RecentIDs {
		m.recent.Push(id)
	}

	m.queue = NewRetryQueue(m.queue.Cap(), m.queue.MaxAttempts())
	for _, item := range p.Queue {
		if item.Attempts > m.queue.MaxAttempts() {
			item.Attempts = m.queue.MaxAttempts()
		}
		if err := m.queue.push(item); err != nil {
			dropped++
		}
	}

	m.added = append([]models.AddedRecord(nil), p.Added...)
	m.failed = append([]models.FailureRecord(nil), p.Failed...)
	m.flags = p.Engine.Flags
	m.lastSourceID = p.Engine.LastSourceTrackID
	m.machine.restore(p.Engine.Service, p.Engine.Flags, p.Engine.LastTransitionSeq)
	return dropped
}

func (m *Manager) publishTransition(t models.StateTransition) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.New(events.StateChanged, string(t.From)+" -> "+string(t.To)+": "+t.Reason, map[string]any{
		"id":     t.ID,
		"seq":    t.Seq,
		"from":   string(t.From),
		"to":     string(t.To),
		"reason": t.Reason,
		"source": string(t.Source),
	}))
}

func (m *Manager) publish(t events.EventType, msg string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.New(t, msg, data))
}
