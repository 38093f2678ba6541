// Package queue implements the offline mutation queue.
//
// A [Queue] durably buffers writes that could not reach the backend: post drafts ([models.OfflinePost])
// and generic operations ([models.QueueItem]). Items that will not be replayed again go to a dead-letter collection.
//
// Every mutation reloads the collection, applies the change and saves it with the version it was loaded at.
// If another process saved in between, the change is applied again on a fresh load, so concurrent appends
// from several processes all survive. The in-memory snapshots only change after a save succeeds.
//
// The queue never replays anything itself; see package tasks for the drain engine.
package queue
