package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
)

// Phase names a step of a scheduler tick.
type Phase int

const (
	PhaseSignals Phase = iota
	PhaseRollover
	PhaseEvaluate
	PhaseFeed
	PhaseRetry
	PhaseAudit
	PhasePersist
)

func (p Phase) String() string {
	switch p {
	case PhaseSignals:
		return "signals"
	case PhaseRollover:
		return "rollover"
	case PhaseEvaluate:
		return "evaluate"
	case PhaseFeed:
		return "feed"
	case PhaseRetry:
		return "retry"
	case PhaseAudit:
		return "audit"
	case PhasePersist:
		return "persist"
	default:
		return ""
	}
}

// TickReport summarises one scheduler tick.
type TickReport struct {
	State     models.State  `json:"state"`
	Detected  bool          `json:"detected"`
	Processed bool          `json:"processed"`
	Retried   bool          `json:"retried"`
	Audited   bool          `json:"audited"`
	Next      time.Duration `json:"next"`
}

func detectedEvent(track models.DetectedTrack) events.Event {
	return events.New(events.TrackDetected, "now playing "+track.String(), map[string]any{
		"title":           track.Title,
		"artist":          track.Artist,
		"source_track_id": track.SourceTrackID,
	})
}

func auditEvent(report AuditReport) events.Event {
	return events.New(events.AuditCompleted,
		fmt.Sprintf("audit scanned %d entries, repaired %d of %d duplicates", report.Scanned, report.Repaired, report.Duplicates),
		map[string]any{
			"scanned":    report.Scanned,
			"duplicates": report.Duplicates,
			"repaired":   report.Repaired,
			"errors":     report.Errors,
		})
}

func summaryEvent(summary models.DailySummary) events.Event {
	return events.New(events.DailySummary,
		fmt.Sprintf("daily summary for %s: %d added, %d failed", summary.Date, summary.AddedCount, summary.FailedCount),
		map[string]any{
			"date":         summary.Date,
			"added_count":  summary.AddedCount,
			"failed_count": summary.FailedCount,
		})
}

func exportEvent(date string, paths []string) events.Event {
	return events.New(events.ExportWritten, fmt.Sprintf("export for %s written (%d files)", date, len(paths)), map[string]any{
		"date":  date,
		"files": paths,
	})
}

func tickEvent(report TickReport) events.Event {
	return events.New(events.TickCompleted, "tick completed", map[string]any{
		"state":     string(report.State),
		"detected":  report.Detected,
		"processed": report.Processed,
		"retried":   report.Retried,
		"audited":   report.Audited,
		"next":      report.Next.String(),
	})
}

func logEvent(level, message string, data map[string]any) events.Event {
	e := events.New(events.Log, message, data)
	e.Level = level
	return e
}

func tickErrorEvent(phase Phase, err error) events.Event {
	return logEvent("error", fmt.Sprintf("%s step failed: %v", phase, err), map[string]any{
		"phase": phase.String(),
		"kind":  services.KindOf(err).String(),
	})
}
