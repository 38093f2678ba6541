// package models defines the offline queue's persisted records
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Collection keys in durable storage.
const (
	QueueKey      = "offline_queue"
	PostsKey      = "offline_posts"
	DeadLetterKey = "offline_dead_letter"
)

// Record is implemented by everything stored in a collection.
type Record interface {
	RecordID() string
}

// Payload describes a remote write well enough to replay it.
type Payload struct {
	Action   string          `json:"action" validate:"required,max=64"`
	Method   string          `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Endpoint string          `json:"endpoint" validate:"required,startswith=/"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// HTTPMethod returns the replay verb, defaulting to POST.
func (p Payload) HTTPMethod() string {
	if p.Method == "" {
		return "POST"
	}
	return strings.ToUpper(p.Method)
}

// QueueItem is a generic pending remote operation.
type QueueItem struct {
	ID            string  `json:"id"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
	RetryCount    int     `json:"retry_count"`
	Payload       Payload `json:"payload"`
	NextAttemptAt int64   `json:"next_attempt_at,omitempty"` // epoch milliseconds, 0 = now
	LastError     string  `json:"last_error,omitempty"`
}

func (i QueueItem) RecordID() string { return i.ID }

// ReadyAt reports whether the item may be attempted at nowMillis.
func (i QueueItem) ReadyAt(nowMillis int64) bool {
	return i.NextAttemptAt <= nowMillis
}

// PostInput carries the user-provided fields of a new post.
type PostInput struct {
	Content   string   `json:"content" validate:"required_without=MediaURLs,max=280"`
	MediaURLs []string `json:"media_urls,omitempty" validate:"max=4,dive,url"`
	Hashtags  []string `json:"hashtags,omitempty" validate:"max=30,dive,min=1,max=100"`
	ReplyToID string   `json:"reply_to_id,omitempty" validate:"omitempty,max=64"`
}

// OfflinePost is a post that has not been persisted remotely yet.
type OfflinePost struct {
	ID         string     `json:"id"`
	CreatedAt  int64      `json:"created_at"` // epoch milliseconds
	Status     PostStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	Content    string     `json:"content"`
	MediaURLs  []string   `json:"media_urls,omitempty"`
	Hashtags   []string   `json:"hashtags,omitempty"`
	ReplyToID  string     `json:"reply_to_id,omitempty"`
	RemoteID   string     `json:"remote_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func (p OfflinePost) RecordID() string { return p.ID }

// Input returns the content fields of the post.
func (p OfflinePost) Input() PostInput {
	return PostInput{Content: p.Content, MediaURLs: p.MediaURLs, Hashtags: p.Hashtags, ReplyToID: p.ReplyToID}
}

// DeadLetter is a queue item set aside for manual handling.
type DeadLetter struct {
	Item   QueueItem `json:"item"`
	Reason string    `json:"reason"`
	DeadAt int64     `json:"dead_at"` // epoch milliseconds
}

func (d DeadLetter) RecordID() string { return d.Item.ID }

// Status is the read-only summary exposed to UI code.
type Status struct {
	QueueLength     int  `json:"queueLength"`
	PostsLength     int  `json:"postsLength"`
	HasPendingItems bool `json:"hasPendingItems"`
	FailedPosts     int  `json:"failedPosts"`
	DeadLetters     int  `json:"deadLetters"`
	Online          bool `json:"online"`
}

// NewStatus derives a [Status] from collection snapshots.
//
// Failed posts count as pending: they still need a retry or a decision from the user.
// Synced posts waiting for removal do not.
func NewStatus(items []QueueItem, posts []OfflinePost, dead []DeadLetter) Status {
	s := Status{
		QueueLength: len(items),
		PostsLength: len(posts),
		DeadLetters: len(dead),
	}

	pending := len(items) > 0
	for _, p := range posts {
		if p.Status == PostFailed {
			s.FailedPosts++
		}
		if p.Status != PostSynced {
			pending = true
		}
	}
	s.HasPendingItems = pending
	return s
}

func (s Status) String() string {
	return fmt.Sprintf("queue=%d posts=%d failed=%d dead=%d pending=%v",
		s.QueueLength, s.PostsLength, s.FailedPosts, s.DeadLetters, s.HasPendingItems)
}

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// ExtractHashtags returns the distinct lowercase hashtags in content, in order of first appearance.
func ExtractHashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
