package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/onair/internal/events"
	"github.com/desertthunder/onair/internal/models"
)

// maxListed bounds how many queue items and daily records the status view prints.
const maxListed = 5

func field(label, value string) string {
	return styles.label.Render(label) + value
}

func when(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// RenderStatus draws the engine snapshot for the status command.
func RenderStatus(s models.Snapshot) string {
	var b strings.Builder

	b.WriteString(styles.title.Render("onair"))
	b.WriteString("\n")

	state := styles.State(s.Service.State).Render(string(s.Service.State))
	if s.Service.Reason != "" {
		state += styles.help.Render(" (" + s.Service.Reason + ")")
	}
	lines := []string{
		field("State", state),
		field("Since", when(s.Service.ChangedAt)),
		field("In window", fmt.Sprintf("%t", s.InWindow)),
		field("Last tick", when(s.LastTick)),
		field("Next audit", when(s.NextAudit)),
	}

	catalog := styles.ok.Render("ok")
	if !s.Catalog.Authenticated {
		catalog = styles.err.Render("not authenticated")
	} else if s.Catalog.Breaker != "" && s.Catalog.Breaker != "closed" {
		catalog = styles.warn.Render("breaker " + s.Catalog.Breaker)
	}
	if s.Catalog.Error != "" {
		catalog += styles.help.Render(" " + s.Catalog.Error)
	}
	lines = append(lines, field("Catalog", catalog))

	if s.LastDetection != nil {
		lines = append(lines, field("On air", s.LastDetection.Artist+" - "+s.LastDetection.Title))
	}

	lines = append(lines,
		field("Today", fmt.Sprintf("%s: %s added, %s failed",
			s.Stats.Date,
			styles.ok.Render(fmt.Sprint(s.Stats.AddedCount)),
			styles.err.Render(fmt.Sprint(s.Stats.FailedCount)),
		)),
		field("Retry queue", fmt.Sprint(s.QueueSize)),
		field("Recent ids", fmt.Sprint(len(s.RecentIDs))),
	)
	b.WriteString(strings.Join(lines, "\n"))

	if len(s.Queue) > 0 {
		b.WriteString("\n\n" + styles.warn.Render("Waiting for retry:"))
		for i, q := range s.Queue {
			if i == maxListed {
				b.WriteString(styles.help.Render(fmt.Sprintf("\n  … %d more", len(s.Queue)-maxListed)))
				break
			}
			fmt.Fprintf(&b, "\n  • %s - %s (attempt %d)", q.Artist, q.Title, q.Attempts)
		}
	}

	if len(s.Added) > 0 {
		b.WriteString("\n\n" + styles.ok.Render("Latest additions:"))
		for _, r := range lastN(s.Added, maxListed) {
			fmt.Fprintf(&b, "\n  • %s - %s", r.CatalogArtist, r.CatalogTitle)
		}
	}

	if len(s.Failed) > 0 {
		b.WriteString("\n\n" + styles.err.Render("Latest failures:"))
		for _, r := range lastN(s.Failed, maxListed) {
			fmt.Fprintf(&b, "\n  • %s - %s: %s", r.RadioArtist, r.RadioTitle, r.Reason)
		}
	}

	return b.String()
}

func lastN[T any](v []T, n int) []T {
	if len(v) > n {
		return v[len(v)-n:]
	}
	return v
}

// RenderTransitions draws the transition log one line per entry.
func RenderTransitions(ts []models.StateTransition) string {
	if len(ts) == 0 {
		return styles.help.Render("No transitions recorded.")
	}

	lines := make([]string, 0, len(ts))
	for _, t := range ts {
		lines = append(lines, fmt.Sprintf("%4d  %s  %s → %s  %s %s",
			t.Seq,
			when(t.Timestamp),
			styles.State(t.From).Render(string(t.From)),
			styles.State(t.To).Render(string(t.To)),
			t.Reason,
			styles.help.Render("("+string(t.Source)+")"),
		))
	}
	return strings.Join(lines, "\n")
}

// RenderSummaries draws one line per stored daily summary.
func RenderSummaries(summaries []*models.DailySummary) string {
	if len(summaries) == 0 {
		return styles.help.Render("No daily summaries recorded.")
	}

	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("%s  %s added  %s failed",
			s.Date,
			styles.ok.Render(fmt.Sprintf("%3d", s.AddedCount)),
			styles.err.Render(fmt.Sprintf("%3d", s.FailedCount)),
		))
	}
	return strings.Join(lines, "\n")
}

// RenderEvent draws a single bus event for the watch command.
func RenderEvent(e events.Event) string {
	style := styles.help
	switch e.Type {
	case events.TrackAdded:
		style = styles.ok
	case events.TrackFailed:
		style = styles.err
	case events.StateChanged, events.DailySummary:
		style = styles.warn
	case events.Log:
		if e.Level == "error" {
			style = styles.err
		}
	}

	line := fmt.Sprintf("%s %s %s", e.Time.Local().Format("15:04:05"), style.Render(string(e.Type)), e.Message)

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Data[k]))
		}
		line += " " + styles.help.Render(strings.Join(parts, " "))
	}
	return line
}

// RenderError draws a fatal message.
func RenderError(err error) string {
	return styles.err.Render("Error: " + err.Error())
}
