package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/urfave/cli/v3"
)

// PostAdd stores a new offline post.
func (r *Runner) PostAdd(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	id, err := q.AddOfflinePost(models.PostInput{
		Content:   cmd.StringArg("content"),
		MediaURLs: cmd.StringSlice("media"),
		Hashtags:  cmd.StringSlice("tag"),
		ReplyToID: cmd.String("reply-to"),
	})
	if err != nil {
		return err
	}

	r.logger.Info("post queued", "id", id)
	return r.writePlain("✓ Post %s queued\n", id)
}

// PostList prints offline posts, optionally filtered by status.
func (r *Runner) PostList(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	posts := q.OfflinePosts()
	if s := cmd.String("status"); s != "" {
		status, err := models.ParsePostStatus(s)
		if err != nil {
			return err
		}
		filtered := posts[:0:0]
		for _, p := range posts {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		posts = filtered
	}

	if cmd.Bool("json") {
		if posts == nil {
			posts = []models.OfflinePost{}
		}
		return r.writeJSON(posts, true)
	}

	if len(posts) == 0 {
		return r.writePlain("No offline posts\n")
	}
	r.writePlainHeader(fmt.Sprintf("Offline posts (%d)", len(posts)))
	for _, p := range posts {
		r.writePlain("%s  %-8s  %s  %s\n", p.ID, p.Status, shared.FromMillis(p.CreatedAt).Format(time.DateTime), preview(p.Content, 60))
		if p.RetryCount > 0 || p.LastError != "" {
			r.writePlain("    attempts: %d  last error: %s\n", p.RetryCount, p.LastError)
		}
		if p.RemoteID != "" {
			r.writePlain("    remote id: %s\n", p.RemoteID)
		}
	}
	return nil
}

// preview shortens s to n runes on one line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n-1]) + "…"
	}
	return s
}

// PostRemove deletes an offline post.
func (r *Runner) PostRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: post id", shared.ErrMissingArgument)
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	if _, ok := q.Post(id); !ok {
		return fmt.Errorf("%w: post %s", shared.ErrNotFound, id)
	}
	if err := q.RemoveOfflinePost(id); err != nil {
		return err
	}
	return r.writePlain("✓ Post %s removed\n", id)
}

// PostRetry makes one delivery attempt for a post, even one that used up its automatic retries.
func (r *Runner) PostRetry(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: post id", shared.ErrMissingArgument)
	}

	d, err := r.drainer(nil)
	if err != nil {
		return err
	}
	if err := d.RetryPost(ctx, id); err != nil {
		return fmt.Errorf("retry of post %s failed: %w", id, err)
	}
	return r.writePlain("✓ Post %s synced\n", id)
}
