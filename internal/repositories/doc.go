// Package repositories persists the engine.
//
// Working state lives in a directory of JSON files written by [SnapshotStore]: recent catalog IDs,
// the retry queue, the day's added and failed records, and the engine flags. Each file is replaced
// atomically and a missing or corrupt file starts empty instead of blocking startup.
//
// Long-lived history lives in SQLite:
//   - [TransitionRepository] : the append-only service transition log, keyed by engine sequence
//   - [SummaryRepository] : one flushed [models.DailySummary] per date
//   - [History] : both of the above behind the interface the scheduler writes through
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
