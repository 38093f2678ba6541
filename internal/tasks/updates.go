package tasks

import (
	"fmt"

	"github.com/desertthunder/murmur/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	DrainStart Phase = iota
	SyncPosts
	ReplayItems
	DeadLetter
	DrainDone
	ExportCollections
)

func (p Phase) String() string {
	switch p {
	case DrainStart:
		return "drain_start"
	case SyncPosts:
		return "sync_posts"
	case ReplayItems:
		return "replay_items"
	case DeadLetter:
		return "dead_letter"
	case DrainDone:
		return "drain_done"
	case ExportCollections:
		return "export_collections"
	default:
		return ""
	}
}

func drainStartUpdate(posts, items int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DrainStart,
		Step:    0,
		Total:   posts + items,
		Message: fmt.Sprintf("Draining %d post(s) and %d operation(s)...", posts, items),
	}
}

func syncPostUpdate(step, total int, post models.OfflinePost) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncPosts,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Syncing post %s", shortID(post.ID)),
		Data:    post,
	}
}

func postFailedUpdate(step, total int, post models.OfflinePost, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncPosts,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Post %s failed: %v", shortID(post.ID), err),
		Data:    err,
	}
}

func replayItemUpdate(step, total int, item models.QueueItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReplayItems,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Replaying %s (%s)", item.Payload.Action, shortID(item.ID)),
		Data:    item,
	}
}

func itemFailedUpdate(step, total int, item models.QueueItem, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReplayItems,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("%s failed (attempt %d): %v", item.Payload.Action, item.RetryCount, err),
		Data:    err,
	}
}

func deadLetterUpdate(step, total int, item models.QueueItem, reason string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeadLetter,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Set aside %s: %s", item.Payload.Action, reason),
		Data:    item,
	}
}

func drainDoneUpdate(result *DrainResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DrainDone,
		Step:    1,
		Total:   1,
		Message: result.Summary(),
		Data:    result,
	}
}

func exportUpdate(step, total int, path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportCollections,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Wrote %s", path),
		Data:    path,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
