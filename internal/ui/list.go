package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
)

var (
	_ list.Item = postItem{}
	_ list.Item = queueItem{}
	_ list.Item = deadItem{}
)

// entry is a list item that can be removed from the queue.
type entry interface {
	list.DefaultItem
	id() string
}

// postItem wraps [models.OfflinePost] to implement [list.Item].
type postItem struct {
	post models.OfflinePost
}

func (i postItem) id() string          { return i.post.ID }
func (i postItem) FilterValue() string { return i.post.Content }
func (i postItem) Title() string {
	content := strings.ReplaceAll(i.post.Content, "\n", " ")
	if content == "" {
		content = fmt.Sprintf("(%d media)", len(i.post.MediaURLs))
	}
	return content
}
func (i postItem) Description() string {
	desc := fmt.Sprintf("%s • %s", styles.status(i.post.Status).Render(string(i.post.Status)), age(i.post.CreatedAt))
	if i.post.RetryCount > 0 {
		desc = fmt.Sprintf("%s • %d attempt(s)", desc, i.post.RetryCount)
	}
	if i.post.LastError != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.post.LastError)
	}
	return desc
}

// queueItem wraps [models.QueueItem] to implement [list.Item].
type queueItem struct {
	item models.QueueItem
}

func (i queueItem) id() string          { return i.item.ID }
func (i queueItem) FilterValue() string { return i.item.Payload.Action }
func (i queueItem) Title() string {
	return fmt.Sprintf("%s %s", i.item.Payload.HTTPMethod(), i.item.Payload.Action)
}
func (i queueItem) Description() string {
	desc := age(i.item.Timestamp)
	if i.item.RetryCount > 0 {
		desc = fmt.Sprintf("%s • %d attempt(s)", desc, i.item.RetryCount)
	}
	if i.item.NextAttemptAt > 0 {
		desc = fmt.Sprintf("%s • next %s", desc, shared.FromMillis(i.item.NextAttemptAt).Format(time.Kitchen))
	}
	return desc
}

// deadItem wraps [models.DeadLetter] to implement [list.Item].
type deadItem struct {
	dead models.DeadLetter
}

func (i deadItem) id() string          { return i.dead.Item.ID }
func (i deadItem) FilterValue() string { return i.dead.Item.Payload.Action }
func (i deadItem) Title() string       { return i.dead.Item.Payload.Action }
func (i deadItem) Description() string {
	return fmt.Sprintf("%s • %s", age(i.dead.DeadAt), i.dead.Reason)
}

func age(ms int64) string {
	d := time.Since(shared.FromMillis(ms)).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
