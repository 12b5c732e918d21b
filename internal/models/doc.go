// Package models defines the entities that move between the onair engine, its stores and its status surface.
//
// Ephemeral values:
//   - [DetectedTrack] : now-playing metadata from the feed, consumed immediately
//   - [CatalogMatch] : a resolved catalog record
//
// Engine-owned values:
//   - [QueueItem] : a failed resolution awaiting retry
//   - [AddedRecord], [FailureRecord] : append-only daily logs, cleared at rollover
//   - [ServiceState], [StateTransition] : operating state and its audit log
//   - [DailyFlags], [EngineState] : once-per-day bookkeeping persisted across restarts
//
// Read models:
//   - [Snapshot] : returned by the status query
//   - [DailySummary] : one row per day in the history database
//
// JSON tags on these types define the persisted snapshot format, so renaming a tag is a format change.
package models
