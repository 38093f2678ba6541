package models

import (
	"fmt"

	"github.com/desertthunder/murmur/internal/shared"
)

// PostStatus is the sync state of an [OfflinePost].
type PostStatus string

const (
	PostPending PostStatus = "pending"
	PostSyncing PostStatus = "syncing"
	PostFailed  PostStatus = "failed"
	PostSynced  PostStatus = "synced"
)

var postTransitions = map[PostStatus][]PostStatus{
	PostPending: {PostSyncing},
	PostSyncing: {PostSynced, PostFailed},
	PostFailed:  {PostSyncing},
	PostSynced:  {},
}

// Valid reports whether s is one of the known statuses.
func (s PostStatus) Valid() bool {
	_, ok := postTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s PostStatus) Terminal() bool {
	return s == PostSynced
}

// CanTransitionTo reports whether moving from s to next is legal.
//
// Every path to synced goes through syncing; a post is never marked synced without a delivery attempt.
func (s PostStatus) CanTransitionTo(next PostStatus) bool {
	for _, allowed := range postTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParsePostStatus converts a string into a [PostStatus].
func ParsePostStatus(v string) (PostStatus, error) {
	s := PostStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown post status %q", shared.ErrInvalidArgument, v)
	}
	return s, nil
}

// CheckTransition returns [shared.ErrInvalidTransition] when from → to is not legal.
func CheckTransition(from, to PostStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown post status %q", shared.ErrInvalidTransition, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s → %s", shared.ErrInvalidTransition, from, to)
	}
	return nil
}
