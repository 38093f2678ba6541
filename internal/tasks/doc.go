// Package tasks drains the offline queue into the backend with real-time progress reporting.
//
// # Drain
//
// [Drainer.Drain] replays pending work in causal order:
//
//  1. Offline posts, oldest first
//     - pending posts, and failed posts that still have attempts left
//     - each post moves pending/failed → syncing → synced (then removed) or failed
//  2. Queued operations, oldest first
//     - success removes the item
//     - a retryable failure counts the attempt and schedules the next one with exponential backoff
//     - a permanent rejection, or running out of attempts, moves the item to the dead-letter collection
//
// A retryable item failure stops the item phase unless ContinueOnFailure is set, since later operations
// may depend on earlier ones (follow before message, post before like). Items still waiting out their
// backoff stop it the same way.
//
// # Retry Policy
//
// [RetryPolicy] is explicit configuration: attempts, initial and maximum backoff, multiplier.
// Requests are paced by a [rate.Limiter].
//
// # Progress Reporting
//
// Progress is sent as [ProgressUpdate] values over a channel with select/default, so a slow reader never blocks a drain.
//
// # Export
//
// [ExportSnapshots] writes the queue's collections to files in several formats using a small worker pool.
package tasks
