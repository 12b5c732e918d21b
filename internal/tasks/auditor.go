package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/state"
)

// AuditOptions configures a [DuplicateAuditor].
type AuditOptions struct {
	PlaylistID string
	PageSize   int
	ReaddDelay time.Duration
	BatchDelay time.Duration
	Sleep      services.Sleeper
	Logger     *log.Logger
}

// AuditReport summarises one audit run.
type AuditReport struct {
	Scanned    int      `json:"scanned"`
	Duplicates int      `json:"duplicates"`
	Repaired   int      `json:"repaired"`
	Errors     []string `json:"errors,omitempty"`
}

// DuplicateAuditor finds catalog ids that appear more than once and collapses them to one entry.
type DuplicateAuditor struct {
	catalog services.Catalog
	manager *state.Manager
	opts    AuditOptions
	logger  *log.Logger
}

// NewDuplicateAuditor creates an auditor.
func NewDuplicateAuditor(catalog services.Catalog, manager *state.Manager, opts AuditOptions) *DuplicateAuditor {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Sleep == nil {
		opts.Sleep = services.SleepContext
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &DuplicateAuditor{
		catalog: catalog,
		manager: manager,
		opts:    opts,
		logger:  shared.WithLogger(opts.Logger, "component", "auditor"),
	}
}

type occurrence struct {
	uri   string
	title string
	count int
	first int
}

// Run scans the whole playlist and repairs every duplicated id.
//
// Removing all occurrences and re-adding one moves the survivor to the end of the playlist.
// A failed scan returns an error; failed repairs are collected in the report.
func (a *DuplicateAuditor) Run(ctx context.Context) (AuditReport, error) {
	var report AuditReport

	counts, scanned, err := a.scan(ctx)
	report.Scanned = scanned
	if err != nil {
		return report, err
	}

	dupes := make([]string, 0)
	for id, occ := range counts {
		if occ.count > 1 {
			dupes = append(dupes, id)
		}
	}
	sort.Slice(dupes, func(i, j int) bool { return counts[dupes[i]].first < counts[dupes[j]].first })
	report.Duplicates = len(dupes)

	if len(dupes) == 0 {
		a.logger.Debug("no duplicates", "scanned", scanned)
		return report, nil
	}

	for _, id := range dupes {
		occ := counts[id]
		a.logger.Info("repairing duplicate", "id", id, "title", occ.title, "count", occ.count)
		if err := a.repair(ctx, id, occ); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			a.logger.Warn("duplicate repair failed", "id", id, "error", err)
			continue
		}
		report.Repaired++
		metrics.DuplicatesRepaired.Inc()
	}

	if err := a.opts.Sleep(ctx, a.opts.BatchDelay); err != nil {
		return report, err
	}
	a.logger.Info("audit complete", "scanned", report.Scanned, "duplicates", report.Duplicates, "repaired", report.Repaired)
	return report, nil
}

func (a *DuplicateAuditor) scan(ctx context.Context) (map[string]*occurrence, int, error) {
	counts := make(map[string]*occurrence)
	scanned := 0

	for offset := 0; ; offset += a.opts.PageSize {
		page, err := a.catalog.PlaylistItems(ctx, a.opts.PlaylistID, a.opts.PageSize, offset)
		if err != nil {
			return nil, scanned, fmt.Errorf("audit scan at offset %d: %w", offset, err)
		}

		for _, entry := range page.Items {
			scanned++
			if entry.CatalogID == "" {
				continue
			}
			occ, ok := counts[entry.CatalogID]
			if !ok {
				occ = &occurrence{uri: entry.URI, title: entry.Title, first: entry.Position}
				counts[entry.CatalogID] = occ
			}
			occ.count++
		}

		if !page.Next || len(page.Items) == 0 || offset+len(page.Items) >= page.Total {
			break
		}
	}

	metrics.PlaylistSize.Set(float64(scanned))
	return counts, scanned, nil
}

func (a *DuplicateAuditor) repair(ctx context.Context, id string, occ *occurrence) error {
	uri := occ.uri
	if uri == "" {
		uri = services.TrackURI(id)
	}
	if err := a.catalog.RemoveAll(ctx, a.opts.PlaylistID, []string{uri}); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if err := a.opts.Sleep(ctx, a.opts.ReaddDelay); err != nil {
		return err
	}
	if err := a.catalog.AddItems(ctx, a.opts.PlaylistID, []string{uri}); err != nil {
		return fmt.Errorf("re-add: %w", err)
	}
	a.manager.RememberCatalogID(id)
	return nil
}
