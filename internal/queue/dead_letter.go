package queue

import (
	"slices"

	"github.com/desertthunder/murmur/internal/models"
)

func indexDead(dead []models.DeadLetter, id string) int {
	return slices.IndexFunc(dead, func(d models.DeadLetter) bool { return d.Item.ID == id })
}

// MoveToDeadLetter sets queue item id aside with reason.
//
// The item is taken from a fresh load of the stored queue, so only one process can claim it. An item another
// process already removed reports false and writes nothing. If the dead-letter write fails the item is put
// back in the queue.
func (q *Queue) MoveToDeadLetter(id, reason string) (bool, error) {
	var (
		item  models.QueueItem
		found bool
	)
	err := q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			i := indexItem(items, id)
			found = i >= 0
			if !found {
				return nil, errUnchanged
			}
			item = items[i]
			return slices.Delete(items, i, i+1), nil
		}, q.setItems)
	})
	if err != nil || !found {
		return false, err
	}

	entry := models.DeadLetter{Item: item, Reason: reason, DeadAt: q.now()}
	err = q.run(models.DeadLetterKey, func() (bool, error) {
		return mutate(q, models.DeadLetterKey, func(dead []models.DeadLetter) ([]models.DeadLetter, error) {
			if i := indexDead(dead, id); i >= 0 {
				dead[i] = entry
				return dead, nil
			}
			return append(dead, entry), nil
		}, q.setDead)
	})
	if err != nil {
		if rerr := q.restoreItem(item); rerr != nil {
			q.logger.Error("failed to restore operation after dead-letter write failed", "id", id, "error", rerr)
		}
		return false, err
	}

	q.logger.Info("moved operation to dead letter", "id", id, "action", item.Payload.Action, "reason", reason)
	return true, nil
}

// restoreItem puts item back in timestamp order.
func (q *Queue) restoreItem(item models.QueueItem) error {
	return q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			if indexItem(items, item.ID) >= 0 {
				return nil, errUnchanged
			}
			i := slices.IndexFunc(items, func(it models.QueueItem) bool { return it.Timestamp > item.Timestamp })
			if i < 0 {
				return append(items, item), nil
			}
			return slices.Insert(items, i, item), nil
		}, q.setItems)
	})
}

// Requeue moves dead letter id back to the tail of the queue, keeping its retry count.
// Unknown ids report false.
func (q *Queue) Requeue(id string) (bool, error) {
	entry, found := q.deadLetter(id)
	if !found {
		if err := q.Refresh(); err != nil {
			return false, err
		}
		if entry, found = q.deadLetter(id); !found {
			return false, nil
		}
	}

	err := q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, func(items []models.QueueItem) ([]models.QueueItem, error) {
			if indexItem(items, id) >= 0 {
				return nil, errUnchanged
			}
			item := entry.Item
			item.Timestamp = q.nextTimestamp(items)
			item.NextAttemptAt = 0
			return append(items, item), nil
		}, q.setItems)
	})
	if err != nil {
		return false, err
	}

	return true, q.DiscardDeadLetter(id)
}

// DiscardDeadLetter deletes dead letter id. Discarding an unknown id is not an error.
func (q *Queue) DiscardDeadLetter(id string) error {
	return q.run(models.DeadLetterKey, func() (bool, error) {
		return mutate(q, models.DeadLetterKey, func(dead []models.DeadLetter) ([]models.DeadLetter, error) {
			i := indexDead(dead, id)
			if i < 0 {
				return nil, errUnchanged
			}
			return slices.Delete(dead, i, i+1), nil
		}, q.setDead)
	})
}

// ClearDeadLetters empties the dead-letter collection.
func (q *Queue) ClearDeadLetters() error {
	return q.run(models.DeadLetterKey, func() (bool, error) {
		return mutate(q, models.DeadLetterKey, clearRecords[models.DeadLetter], q.setDead)
	})
}

func (q *Queue) deadLetter(id string) (models.DeadLetter, bool) {
	q.snap.RLock()
	defer q.snap.RUnlock()
	if i := indexDead(q.dead, id); i >= 0 {
		return q.dead[i], true
	}
	return models.DeadLetter{}, false
}
