package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/onair/internal/formatter"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/repositories"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/ui"
)

// HistoryTransitions lists the newest state transitions, oldest first.
func (r *Runner) HistoryTransitions(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ts, err := repositories.NewTransitionRepository(db).List(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(ts, true)
	}
	return r.writePlain("%s\n", ui.RenderTransitions(ts))
}

// HistorySummaries lists stored daily summaries, newest first.
func (r *Runner) HistorySummaries(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, err := repositories.NewSummaryRepository(db).List(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if summaries == nil {
			summaries = []*models.DailySummary{}
		}
		return r.writeJSON(summaries, true)
	}
	return r.writePlain("%s\n", ui.RenderSummaries(summaries))
}

// Export writes one day's records without a running engine.
//
// The day held in the saved state is read from the snapshot files; any other --date is read from the
// daily summaries in the history database.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	if dir == "" {
		dir = r.config.Export.Dir
	}
	formats := cmd.StringSlice("format")
	if len(formats) == 0 {
		formats = r.config.Export.Formats
	}

	date := cmd.String("date")
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return fmt.Errorf("%w: --date %q must be YYYY-MM-DD", shared.ErrInvalidArgument, date)
		}
	}

	export, err := r.loadExport(ctx, date)
	if err != nil {
		return err
	}

	paths, err := formatter.WriteDailyExport(export, dir, formats)
	if err != nil {
		return err
	}

	r.writePlain("✓ Exported %s: %d added, %d failed\n", export.Date, len(export.Added), len(export.Failed))
	for _, p := range paths {
		r.writePlain("  %s\n", p)
	}
	return nil
}

func (r *Runner) loadExport(ctx context.Context, date string) (formatter.DailyExport, error) {
	store := repositories.NewSnapshotStore(r.config.Storage.Dir, r.logger)
	persisted, err := store.Load()
	if err != nil {
		r.logger.Warn("saved state partly unreadable", "error", err)
	}

	current := persisted.Engine.Flags.DateOfLastRollover
	if date == "" {
		date = current
	}
	if date == "" {
		date = models.DateKey(time.Now())
	}

	if date == current || (current == "" && len(persisted.Added)+len(persisted.Failed) > 0) {
		return formatter.DailyExport{Date: date, Added: persisted.Added, Failed: persisted.Failed}, nil
	}

	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return formatter.DailyExport{}, err
	}
	defer db.Close()

	summary, err := repositories.NewSummaryRepository(db).Get(ctx, date)
	if errors.Is(err, repositories.ErrSummaryNotFound) {
		return formatter.DailyExport{}, fmt.Errorf("%w: no records for %s", shared.ErrInvalidArgument, date)
	}
	if err != nil {
		return formatter.DailyExport{}, err
	}
	return formatter.DailyExport{Date: summary.Date, Added: summary.Added, Failed: summary.Failed}, nil
}
