// Package tasks runs the engine: resolving detections, keeping the playlist window, auditing
// duplicates, and the scheduler loop that ties them together.
//
// # Tick
//
// [Scheduler.Tick] is one pass of the loop:
//
//  1. Take admin signals (reauth, forced check, audit, retry, export).
//  2. Close the previous day when the date changed: summary log, event, history row, export.
//  3. Evaluate the state machine. Paused and outside-hours ticks stop here.
//  4. Read the feed once. A new play is resolved, then added or queued for retry.
//  5. Drain one retry item after a processed play, every RetryEvery ticks, or on request.
//  6. Run the [DuplicateAuditor] when its interval elapsed or on request.
//  7. Save the snapshot files and append new transitions to history.
//
// Catalog failures stay inside their step. Persistence errors and panics end the tick with an
// error and [Scheduler.Serve] waits ErrorBackoff before the next one.
//
// # Events
//
// Progress is reported through the [events.Bus] with the non-blocking publish used everywhere
// else in the engine, so a slow websocket client never stalls a tick.
package tasks
