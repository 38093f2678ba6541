package queue

import (
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
)

func indexItem(items []models.QueueItem, id string) int {
	return slices.IndexFunc(items, func(it models.QueueItem) bool { return it.ID == id })
}

// AddToQueue validates payload and appends it to the operation queue, returning the new item's id.
//
// Timestamps never decrease along the queue, even if the clock goes backwards.
func (q *Queue) AddToQueue(payload models.Payload) (string, error) {
	payload.Method = strings.ToUpper(strings.TrimSpace(payload.Method))
	if err := models.ValidatePayload(payload); err != nil {
		return "", err
	}

	id := shared.GenerateID()
	var ts int64
	err := q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			ts = q.nextTimestamp(items)
			return append(items, models.QueueItem{ID: id, Timestamp: ts, Payload: payload}), nil
		}, q.setItems)
	})
	if err != nil {
		return "", err
	}

	q.logger.Debug("queued operation", "id", id, "action", payload.Action)
	return id, nil
}

// RemoveQueueItem deletes item id. Removing an unknown id is not an error.
func (q *Queue) RemoveQueueItem(id string) error {
	return q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			i := indexItem(items, id)
			if i < 0 {
				return nil, errUnchanged
			}
			return slices.Delete(items, i, i+1), nil
		}, q.setItems)
	})
}

// RecordItemFailure counts a failed replay of item id and schedules the next attempt.
//
// It returns the updated item; found is false when the item is gone.
func (q *Queue) RecordItemFailure(id string, cause error, nextAttemptAt int64) (item models.QueueItem, found bool, err error) {
	err = q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			i := indexItem(items, id)
			found = i >= 0
			if !found {
				return nil, errUnchanged
			}
			items[i].RetryCount++
			items[i].NextAttemptAt = nextAttemptAt
			if cause != nil {
				items[i].LastError = cause.Error()
			}
			item = items[i]
			return items, nil
		}, q.setItems)
	})
	if err != nil {
		return item, found, fmt.Errorf("item %s: %w", id, err)
	}
	return item, found, nil
}
