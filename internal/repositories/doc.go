// Package repositories implements SQLite persistence for the offline queue.
//
// Records live in named collections, one row per collection in the collections table.
// Each row carries a version token that advances on every write so concurrent writers can detect each other.
//
// Key Implementations:
//   - [CollectionStore] : versioned key-value documents with compare-and-swap saves
//   - [Watcher] : polls collection versions and reports keys changed by someone else
//   - [DrainRunRepository] : history of drain runs for `queue status --history`
//
// Documents are stored as {"schemaVersion":2,"records":[...]}.
// Version 1 values (a bare JSON array with camelCase keys) are upgraded when read.
package repositories
