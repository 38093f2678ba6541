// Package models defines the records held by the offline mutation queue.
//
// There are three record kinds, each persisted as its own named collection:
//
//   - [QueueItem] : a generic pending write (like, retweet, bookmark, follow, comment, message)
//     described by a [Payload] that is enough to replay the call against the backend
//   - [OfflinePost] : a post draft that could not be created remotely yet, with a [PostStatus]
//   - [DeadLetter] : a queue item set aside after exceeding the retry policy or being rejected
//
// [PostStatus] is a small state machine: pending → syncing → synced | failed, and failed → syncing.
// synced is terminal. [PostStatus.CanTransitionTo] is the single source of truth for legal moves.
//
// Input is validated with go-playground/validator before anything is persisted; see [ValidatePostInput] and [ValidatePayload].
package models
