package queue

import (
	"fmt"
	"slices"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
)

func indexPost(posts []models.OfflinePost, id string) int {
	return slices.IndexFunc(posts, func(p models.OfflinePost) bool { return p.ID == id })
}

// AddOfflinePost validates in and stores it as a pending post, returning the new post's id.
func (q *Queue) AddOfflinePost(in models.PostInput) (string, error) {
	in = models.NormalizePostInput(in)
	if err := models.ValidatePostInput(in); err != nil {
		return "", err
	}

	post := models.OfflinePost{
		ID:        shared.GenerateID(),
		CreatedAt: q.now(),
		Status:    models.PostPending,
		Content:   in.Content,
		MediaURLs: in.MediaURLs,
		Hashtags:  in.Hashtags,
		ReplyToID: in.ReplyToID,
	}

	err := q.run(models.PostsKey, func() (bool, error) {
		return mutate(q, models.PostsKey, func(posts []models.OfflinePost) ([]models.OfflinePost, error) {
			return append(posts, post), nil
		}, q.setPosts)
	})
	if err != nil {
		return "", err
	}

	q.logger.Debug("queued offline post", "id", post.ID)
	return post.ID, nil
}

// UpdatePostStatus moves post id to status.
//
// Unknown ids are a no-op and report false. Illegal transitions return [shared.ErrInvalidTransition].
// Re-marking a post with the status it already has is accepted without a write.
func (q *Queue) UpdatePostStatus(id string, status models.PostStatus) (bool, error) {
	return q.updatePost(id, func(p *models.OfflinePost) error {
		if p.Status == status {
			return errUnchanged
		}
		if err := models.CheckTransition(p.Status, status); err != nil {
			return err
		}
		p.Status = status
		if status == models.PostSyncing {
			p.LastError = ""
		}
		return nil
	})
}

// RecordPostFailure marks a syncing post failed, counting the attempt and keeping cause for diagnostics.
func (q *Queue) RecordPostFailure(id string, cause error) (bool, error) {
	return q.updatePost(id, func(p *models.OfflinePost) error {
		if err := models.CheckTransition(p.Status, models.PostFailed); err != nil {
			return err
		}
		p.Status = models.PostFailed
		p.RetryCount++
		if cause != nil {
			p.LastError = cause.Error()
		}
		return nil
	})
}

// ReleasePost marks a syncing post failed without counting the attempt, for failures that were not the post's
// fault such as a rejected session token.
func (q *Queue) ReleasePost(id string, cause error) (bool, error) {
	return q.updatePost(id, func(p *models.OfflinePost) error {
		if err := models.CheckTransition(p.Status, models.PostFailed); err != nil {
			return err
		}
		p.Status = models.PostFailed
		if cause != nil {
			p.LastError = cause.Error()
		}
		return nil
	})
}

// RecordPostSynced marks a syncing post synced and stores the id the backend assigned.
func (q *Queue) RecordPostSynced(id, remoteID string) (bool, error) {
	return q.updatePost(id, func(p *models.OfflinePost) error {
		if err := models.CheckTransition(p.Status, models.PostSynced); err != nil {
			return err
		}
		p.Status = models.PostSynced
		p.RemoteID = remoteID
		p.LastError = ""
		return nil
	})
}

// RecoverInterrupted marks posts left in syncing by a process that died mid-drain as failed.
//
// Only call it when no other process is draining. It returns the ids that were recovered.
func (q *Queue) RecoverInterrupted() ([]string, error) {
	var recovered []string
	err := q.run(models.PostsKey, func() (bool, error) {
		return mutate(q, models.PostsKey, func(posts []models.OfflinePost) ([]models.OfflinePost, error) {
			recovered = recovered[:0]
			for i := range posts {
				if posts[i].Status != models.PostSyncing {
					continue
				}
				posts[i].Status = models.PostFailed
				posts[i].RetryCount++
				posts[i].LastError = "interrupted while syncing"
				recovered = append(recovered, posts[i].ID)
			}
			if len(recovered) == 0 {
				return nil, errUnchanged
			}
			return posts, nil
		}, q.setPosts)
	})
	return recovered, err
}

// RemoveOfflinePost deletes post id. Removing an unknown id is not an error.
func (q *Queue) RemoveOfflinePost(id string) error {
	return q.run(models.PostsKey, func() (bool, error) {
		return mutate(q, models.PostsKey, func(posts []models.OfflinePost) ([]models.OfflinePost, error) {
			i := indexPost(posts, id)
			if i < 0 {
				return nil, errUnchanged
			}
			return slices.Delete(posts, i, i+1), nil
		}, q.setPosts)
	})
}

func (q *Queue) updatePost(id string, fn func(p *models.OfflinePost) error) (bool, error) {
	found := false
	err := q.run(models.PostsKey, func() (bool, error) {
		return mutate(q, models.PostsKey, func(posts []models.OfflinePost) ([]models.OfflinePost, error) {
			i := indexPost(posts, id)
			found = i >= 0
			if !found {
				return nil, errUnchanged
			}
			if err := fn(&posts[i]); err != nil {
				return nil, err
			}
			return posts, nil
		}, q.setPosts)
	})
	if err != nil {
		return found, fmt.Errorf("post %s: %w", id, err)
	}
	return found, nil
}

// ClearAll empties the post and operation collections. Dead letters are kept.
func (q *Queue) ClearAll() error {
	err := q.run(models.PostsKey, func() (bool, error) {
		return mutate(q, models.PostsKey, clearRecords[models.OfflinePost], q.setPosts)
	})
	if err != nil {
		return err
	}
	return q.run(models.QueueKey, func() (bool, error) {
		return mutate(q, models.QueueKey, clearRecords[models.QueueItem], q.setItems)
	})
}

func clearRecords[T any](records []T) ([]T, error) {
	if len(records) == 0 {
		return nil, errUnchanged
	}
	return []T{}, nil
}
