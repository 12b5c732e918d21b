package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/feed"
	"github.com/desertthunder/onair/internal/formatter"
	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/repositories"
	"github.com/desertthunder/onair/internal/server"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
	"github.com/desertthunder/onair/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

// newTree builds the root supervisor. Services restart with suture's default backoff.
func (r *Runner) newTree() *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: shared.NewSlogLogger(r.logger)}).MustHook()
	return suture.New("onair", suture.Spec{
		EventHook: hook,
		Timeout:   shutdownTimeout,
	})
}

// Serve wires the engine from config, restores saved state, and runs the scheduler and the admin
// server under one supervisor until SIGINT or SIGTERM.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	if err := cfg.Validate(); err != nil {
		return err
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	spotify, err := r.newCatalog()
	if err != nil {
		return fmt.Errorf("failed to create Spotify service: %w", err)
	}

	if !cmd.Bool("skip-checks") {
		for _, d := range r.diagnose(ctx, spotify) {
			if d.Err != nil {
				r.logger.Warn("startup check failed", "check", d.Name, "error", d.Err)
			} else {
				r.logger.Info("startup check passed", "check", d.Name, "detail", d.Detail)
			}
		}
	}

	serviceID, err := r.resolveServiceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve feed service: %w", err)
	}

	bus := events.NewBus()
	bus.OnDrop(func(events.Event) { metrics.EventsDropped.Inc() })
	defer bus.Close()

	catalog := services.NewBreakerCatalog(spotify, services.BreakerSettings{
		Name:     "spotify",
		Failures: uint32(max(cfg.Catalog.BreakerFailures, 0)),
		Timeout:  cfg.Catalog.BreakerTimeout.Duration,
		Logger:   r.logger,
	})

	manager := state.NewManager(state.Options{
		QueueSize:      cfg.Engine.MaxQueueSize,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RecentCapacity: cfg.Engine.RecentCapacity,
		Window: state.Window{
			Start:    cfg.Schedule.ActiveStartHour,
			End:      cfg.Schedule.ActiveEndHour,
			Location: loc,
		},
		ResetHour: cfg.Schedule.ResetHour,
		Bus:       bus,
	})
	manager.SetHealthSource(catalog.Health)

	store := repositories.NewSnapshotStore(cfg.Storage.Dir, r.logger)
	persisted, err := store.Load()
	if err != nil {
		r.logger.Warn("saved state partly unreadable, continuing with what loaded", "error", err)
	}
	if dropped := manager.Restore(persisted); dropped > 0 {
		r.logger.Warn("restored queue exceeded capacity", "dropped", dropped)
	}
	r.logger.Info("state restored",
		"dir", store.Dir(),
		"state", manager.Current().State,
		"queue", manager.QueueLen(),
	)

	db, err := shared.OpenHistory(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	history := repositories.NewHistory(db)

	listener := feed.New(feed.NewOptions(cfg.Feed, serviceID, r.logger))

	auditor := tasks.NewDuplicateAuditor(catalog, manager, tasks.AuditOptions{
		PlaylistID: cfg.Catalog.PlaylistID,
		PageSize:   cfg.Engine.AuditPageSize,
		ReaddDelay: cfg.Engine.ReaddDelay.Duration,
		BatchDelay: cfg.Engine.BatchDelay.Duration,
		Logger:     r.logger,
	})

	scheduler := tasks.NewScheduler(tasks.Deps{
		Manager:  manager,
		Feed:     listener,
		Catalog:  catalog,
		Resolver: tasks.NewResolver(catalog, cfg.Catalog.MinConfidence, r.logger),
		Window:   tasks.NewPlaylistWindow(catalog, manager, cfg.Catalog.PlaylistID, cfg.Engine.MaxPlaylistSize, r.logger),
		Auditor:  auditor,
		Store:    store,
		History:  history,
		Export:   formatter.Writer(cfg.Export.Dir, cfg.Export.Formats),
		Bus:      bus,
	}, tasks.SchedulerOptions{
		CheckInterval:    cfg.Schedule.CheckInterval.Duration,
		AuditInterval:    cfg.Schedule.AuditInterval.Duration,
		PausedBackoff:    cfg.Schedule.PausedBackoff.Duration,
		ErrorBackoff:     cfg.Schedule.ErrorBackoff.Duration,
		FeedTimeout:      feedTimeout(cfg.Feed),
		RetryEvery:       cfg.Engine.RetryEvery,
		ExportOnRollover: cfg.Export.OnRollover,
		Logger:           r.logger,
	})

	handler := server.NewHandler(server.Options{
		Engine:         manager,
		Bus:            bus,
		History:        history.Transitions,
		Logger:         r.logger,
		AdminRateLimit: cfg.Server.AdminRateLimit,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := r.newTree()
	tree.Add(scheduler)
	tree.Add(server.NewHTTPService(httpServer, shutdownTimeout, r.logger))

	r.logger.Info("onair started",
		"station", cfg.Feed.Station,
		"playlist", cfg.Catalog.PlaylistID,
		"addr", httpServer.Addr,
	)

	err = tree.Serve(ctx)
	if ctx.Err() != nil || errors.Is(err, suture.ErrTerminateSupervisorTree) {
		r.logger.Info("onair stopped")
		return nil
	}
	return err
}

// feedTimeout bounds one feed poll: every allowed read plus the handshake, with slack.
func feedTimeout(cfg shared.FeedConfig) time.Duration {
	reads := max(cfg.MaxReads, 1)
	return time.Duration(reads)*cfg.ReadTimeout.Duration + cfg.HandshakeTimeout.Duration + 5*time.Second
}
