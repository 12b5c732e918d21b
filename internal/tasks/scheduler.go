package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/formatter"
	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
)

// Feed is the source of now-playing detections.
type Feed interface {
	Next(ctx context.Context) (*models.DetectedTrack, error)
	Close() error
}

// Store persists the engine's working state between runs.
type Store interface {
	Save(p state.Persisted) error
}

// History is the append-only record of transitions and closed days.
type History interface {
	AppendTransitions(ctx context.Context, ts []models.StateTransition) error
	LastTransitionSeq(ctx context.Context) (int64, error)
	SaveSummary(ctx context.Context, summary *models.DailySummary) error
}

// ExportFunc writes a daily export and returns the files it created.
type ExportFunc func(export formatter.DailyExport) ([]string, error)

// SchedulerOptions holds loop cadence and side-effect switches.
type SchedulerOptions struct {
	CheckInterval    time.Duration
	AuditInterval    time.Duration
	PausedBackoff    time.Duration
	ErrorBackoff     time.Duration
	FeedTimeout      time.Duration
	RetryEvery       int
	ExportOnRollover bool
	Logger           *log.Logger
}

// Deps are the collaborators a [Scheduler] drives. History, Store and Export may be nil.
type Deps struct {
	Manager  *state.Manager
	Feed     Feed
	Catalog  services.Catalog
	Resolver *Resolver
	Window   *PlaylistWindow
	Auditor  *DuplicateAuditor
	Store    Store
	History  History
	Export   ExportFunc
	Bus      *events.Bus
}

// Scheduler is the engine's single control loop.
type Scheduler struct {
	Deps
	opts   SchedulerOptions
	logger *log.Logger

	ticks      int
	lastAudit  time.Time
	flushedSeq int64
	seqLoaded  bool
}

// NewScheduler creates a scheduler. Zero durations fall back to the loop defaults.
func NewScheduler(deps Deps, opts SchedulerOptions) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 2 * time.Minute
	}
	if opts.AuditInterval <= 0 {
		opts.AuditInterval = 30 * time.Minute
	}
	if opts.PausedBackoff <= 0 {
		opts.PausedBackoff = 5 * time.Minute
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * opts.CheckInterval
	}
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = 45 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Scheduler{
		Deps:   deps,
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "component", "scheduler"),
	}
}

// String names the service for the supervisor.
func (s *Scheduler) String() string { return "scheduler" }

// Serve runs ticks until ctx is done, then saves state and closes the feed.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"check_interval", s.opts.CheckInterval,
		"audit_interval", s.opts.AuditInterval,
		"state", s.Manager.Current().State,
	)
	defer s.shutdown()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.Manager.Wake():
		}

		report, err := s.Tick(ctx)
		wait := report.Next
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("tick failed", "error", err, "retry_in", s.opts.ErrorBackoff)
			wait = s.opts.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) shutdown() {
	if err := s.persist(context.Background()); err != nil {
		s.logger.Error("final save failed", "error", err)
	} else {
		s.logger.Info("state saved")
	}
	if s.Feed != nil {
		s.Feed.Close()
	}
}

// Tick runs one pass of the loop and reports how long to wait before the next one.
//
// Catalog and feed failures are handled inside their step. The returned error covers
// persistence, audit scans and recovered panics, and asks the caller to back off.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport, err error) {
	start := time.Now()
	phase := PhaseSignals
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s step: %v", phase, r)
		}
		if err != nil {
			s.publish(tickErrorEvent(phase, err))
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	signals := s.Manager.TakeSignals()
	if signals.Reauth {
		s.reauth(ctx)
	}

	phase = PhaseRollover
	if r, ok := s.Manager.CheckRollover(); ok {
		s.rollover(ctx, r)
	}

	phase = PhaseEvaluate
	current, _ := s.Manager.Evaluate()
	metrics.SetServiceState(string(current.State))
	report.State = current.State
	report.Next = s.opts.CheckInterval

	var errs []error
	if current.State.Active() {
		phase = PhaseFeed
		report.Detected, report.Processed = s.checkFeed(ctx)

		phase = PhaseRetry
		s.ticks++
		due := s.opts.RetryEvery > 0 && s.ticks%s.opts.RetryEvery == 0
		if report.Processed || due || signals.RetryOne {
			report.Retried = s.retryOne(ctx)
		}

		phase = PhaseAudit
		now := s.Manager.Now()
		if signals.ForceAudit || now.Sub(s.lastAudit) >= s.opts.AuditInterval {
			report.Audited = true
			if err := s.audit(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if !s.lastAudit.IsZero() {
			s.Manager.SetNextAudit(s.lastAudit.Add(s.opts.AuditInterval))
		}
	} else {
		report.Next = s.opts.PausedBackoff
		if signals.RetryOne || signals.ForceAudit || signals.ForceCheck {
			s.logger.Info("ignoring admin request while inactive", "state", current.State)
		}
		s.logger.Debug("monitoring inactive", "state", current.State, "reason", current.Reason, "next", report.Next)
	}

	phase = PhasePersist
	if signals.Export {
		s.exportToday()
	}
	if err := s.persist(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	s.Manager.SetLastTick(s.Manager.Now())
	s.publish(tickEvent(report))
	return report, errors.Join(errs...)
}

// checkFeed reads the feed once and processes a new detection.
func (s *Scheduler) checkFeed(ctx context.Context) (detected, processed bool) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FeedTimeout)
	defer cancel()

	track, err := s.Feed.Next(fctx)
	if err != nil {
		if errors.Is(err, shared.ErrFeedUnavailable) {
			s.logger.Warn("feed unavailable", "error", err)
		} else if ctx.Err() == nil {
			s.logger.Error("feed read failed", "error", err)
		}
		return false, false
	}
	if track == nil {
		return false, false
	}

	metrics.TracksDetected.Inc()
	if !s.Manager.MarkDetected(*track) {
		s.logger.Debug("play already handled", "id", track.SourceTrackID)
		return true, false
	}
	s.publish(detectedEvent(*track))
	s.process(ctx, *track)
	return true, true
}

// process resolves a fresh detection and adds it, or queues it for a retry.
func (s *Scheduler) process(ctx context.Context, track models.DetectedTrack) {
	if err := s.Catalog.Healthy(); err != nil {
		s.logger.Warn("catalog unavailable, queueing", "track", track.String(), "error", err)
		s.enqueue(track, err.Error())
		return
	}

	res, err := s.Resolver.Resolve(ctx, track)
	if err != nil {
		s.fail(track, err.Error())
		return
	}

	switch res.Outcome {
	case ResolveFound:
		if r, _ := s.Window.Add(ctx, track, *res.Match, models.SourceFeed); r == AddCanceled {
			s.enqueue(track, "interrupted")
		}
	case ResolveNotFound, ResolveTransient, ResolveCanceled:
		s.enqueue(track, res.Reason())
	default:
		s.fail(track, res.Reason())
	}
}

func (s *Scheduler) enqueue(track models.DetectedTrack, reason string) {
	added, err := s.Manager.EnqueueFailure(track)
	switch {
	case err != nil:
		metrics.QueueDrops.Inc()
		s.logger.Warn("retry queue full, dropping", "track", track.String())
		s.fail(track, "retry queue full: "+reason)
	case !added:
		s.logger.Debug("already queued", "id", track.SourceTrackID)
	default:
		s.logger.Info("queued for retry", "track", track.String(), "reason", reason)
	}
	metrics.QueueSize.Set(float64(s.Manager.QueueLen()))
}

func (s *Scheduler) fail(track models.DetectedTrack, reason string) {
	s.Manager.RecordFailure(models.FailureRecord{
		Timestamp:   s.Manager.Now(),
		RadioTitle:  track.Title,
		RadioArtist: track.Artist,
		Reason:      reason,
	})
}

// retryOne takes the head of the retry queue through one more resolution.
func (s *Scheduler) retryOne(ctx context.Context) bool {
	if s.Manager.QueueLen() == 0 {
		return false
	}
	if err := s.Catalog.Healthy(); err != nil {
		s.logger.Debug("skipping retry, catalog unavailable", "error", err)
		return false
	}

	item, ok := s.Manager.DequeueRetry()
	if !ok {
		return false
	}
	defer func() { metrics.QueueSize.Set(float64(s.Manager.QueueLen())) }()

	track := item.Track()
	s.logger.Info("retrying", "track", track.String(), "attempt", item.Attempts)

	res, err := s.Resolver.Resolve(ctx, track)
	if err != nil {
		s.fail(track, err.Error())
		return true
	}

	switch res.Outcome {
	case ResolveFound:
		if r, _ := s.Window.Add(ctx, track, *res.Match, models.SourceRetry); r == AddCanceled {
			s.putBack(item)
		}
	case ResolveCanceled:
		s.putBack(item)
	case ResolvePermanent:
		s.fail(track, res.Reason())
	default:
		if s.Manager.Exhausted(item) {
			s.logger.Warn("giving up", "track", track.String(), "attempts", item.Attempts)
			s.fail(track, "exhausted retries: "+res.Reason())
			return true
		}
		if err := s.Manager.RequeueRetry(item); err != nil {
			metrics.QueueDrops.Inc()
			s.fail(track, "retry queue full: "+res.Reason())
		}
	}
	return true
}

// putBack returns an item whose retry was interrupted to the head of the queue.
func (s *Scheduler) putBack(item models.QueueItem) {
	if err := s.Manager.ReturnRetry(item); err != nil {
		metrics.QueueDrops.Inc()
		s.logger.Warn("could not return interrupted retry", "track", item.Track().String(), "error", err)
		return
	}
	s.logger.Info("retry interrupted, kept in queue", "track", item.Track().String())
}

func (s *Scheduler) audit(ctx context.Context) error {
	if err := s.Catalog.Healthy(); err != nil {
		s.logger.Debug("skipping audit, catalog unavailable", "error", err)
		return nil
	}

	s.lastAudit = s.Manager.Now()
	report, err := s.Auditor.Run(ctx)
	s.publish(auditEvent(report))
	if err != nil {
		return fmt.Errorf("duplicate audit: %w", err)
	}
	return nil
}

func (s *Scheduler) reauth(ctx context.Context) {
	if err := s.Catalog.Reauthenticate(ctx); err != nil {
		s.logger.Error("reauthentication failed", "error", err)
		s.publish(logEvent("error", "reauthentication failed: "+err.Error(), nil))
		return
	}
	s.logger.Info("catalog reauthenticated")
	s.publish(logEvent("info", "catalog reauthenticated", nil))
}

// rollover closes the previous day: log, event, history row and optional export.
func (s *Scheduler) rollover(ctx context.Context, r state.Rollover) {
	summary := &models.DailySummary{
		ID:          shared.GenerateID(),
		Date:        r.Date,
		Added:       r.Added,
		Failed:      r.Failed,
		AddedCount:  len(r.Added),
		FailedCount: len(r.Failed),
		CreatedAt:   s.Manager.Now(),
	}
	s.logger.Info("daily summary", "date", r.Date, "added", summary.AddedCount, "failed", summary.FailedCount)
	for _, rec := range r.Added {
		s.logger.Info("  added", "radio", rec.RadioTitle+" - "+rec.RadioArtist, "catalog", rec.CatalogTitle+" - "+rec.CatalogArtist)
	}
	for _, rec := range r.Failed {
		s.logger.Info("  failed", "radio", rec.RadioTitle+" - "+rec.RadioArtist, "reason", rec.Reason)
	}

	if s.History != nil {
		if err := s.History.SaveSummary(context.WithoutCancel(ctx), summary); err != nil {
			s.logger.Error("could not store daily summary", "date", r.Date, "error", err)
		}
	}
	s.publish(summaryEvent(*summary))

	if s.opts.ExportOnRollover {
		s.export(formatter.DailyExport{Date: r.Date, Added: r.Added, Failed: r.Failed})
	}
	s.Manager.MarkSummarySent()
}

func (s *Scheduler) exportToday() {
	added, failed := s.Manager.Today()
	date := s.Manager.Snapshot().Stats.Date
	s.export(formatter.DailyExport{Date: date, Added: added, Failed: failed})
}

func (s *Scheduler) export(e formatter.DailyExport) {
	if s.Export == nil {
		s.logger.Debug("no export destination configured")
		return
	}
	paths, err := s.Export(e)
	if err != nil {
		s.logger.Error("export failed", "date", e.Date, "error", err)
		s.publish(logEvent("error", "export failed: "+err.Error(), map[string]any{"date": e.Date}))
		return
	}
	s.logger.Info("export written", "date", e.Date, "files", strings.Join(paths, ", "))
	s.publish(exportEvent(e.Date, paths))
}

// persist writes the snapshot files and appends transitions not yet in history.
func (s *Scheduler) persist(ctx context.Context) error {
	var errs []error

	p := s.Manager.Export()
	metrics.QueueSize.Set(float64(len(p.Queue)))
	metrics.RecentIDs.Set(float64(len(p.RecentIDs)))

	if s.Store != nil {
		if err := s.Store.Save(p); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		}
	}

	if s.History != nil {
		if !s.seqLoaded {
			seq, err := s.History.LastTransitionSeq(ctx)
			if err != nil {
				return errors.Join(append(errs, fmt.Errorf("read transition history: %w", err))...)
			}
			s.flushedSeq, s.seqLoaded = seq, true
		}
		if ts := s.Manager.TransitionsSince(s.flushedSeq); len(ts) > 0 {
			if err := s.History.AppendTransitions(ctx, ts); err != nil {
				errs = append(errs, fmt.Errorf("append transitions: %w", err))
			} else {
				s.flushedSeq = ts[len(ts)-1].Seq
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) publish(e events.Event) {
	if s.Bus != nil {
		s.Bus.Publish(e)
	}
}
