// Package ui renders engine state for the terminal with lipgloss.
//
// [RenderStatus] draws a status snapshot, [RenderTransitions] and [RenderSummaries] draw history,
// and [RenderEvent] draws one line per event for the watch command. Service states are colored by
// [Palette.State].
package ui
