package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/services"
	"github.com/desertthunder/murmur/internal/shared"
	"golang.org/x/time/rate"
)

// Queue is the part of the offline queue the drain engine drives.
type Queue interface {
	Refresh() error
	OfflinePosts() []models.OfflinePost
	QueueItems() []models.QueueItem
	Post(id string) (models.OfflinePost, bool)
	UpdatePostStatus(id string, status models.PostStatus) (bool, error)
	RecordPostFailure(id string, cause error) (bool, error)
	ReleasePost(id string, cause error) (bool, error)
	RecordPostSynced(id, remoteID string) (bool, error)
	RemoveOfflinePost(id string) error
	RecordItemFailure(id string, cause error, nextAttemptAt int64) (models.QueueItem, bool, error)
	RemoveQueueItem(id string) error
	MoveToDeadLetter(id, reason string) (bool, error)
}

// RunRecorder stores drain history.
type RunRecorder interface {
	Create(run *repositories.DrainRun) error
}

// Options configures a [Drainer].
type Options struct {
	Policy            RetryPolicy
	RateLimit         float64 // requests per second, 0 = unlimited
	ContinueOnFailure bool
	KeepSynced        bool // leave synced posts in the collection instead of removing them
	Runs              RunRecorder
	Logger            *log.Logger
	Now               func() time.Time
}

// DrainResult summarizes one drain.
type DrainResult struct {
	PostsSynced   int
	PostsFailed   int
	PostsSkipped  int
	ItemsReplayed int
	ItemsFailed   int
	ItemsDead     int
	ItemsDeferred int
	Stopped       bool   // the item phase stopped early
	StopReason    string // why it stopped
	Started       time.Time
	Finished      time.Time
}

// Summary returns a one-line description of the result.
func (r *DrainResult) Summary() string {
	s := fmt.Sprintf("posts: %d synced, %d failed; operations: %d replayed, %d failed, %d dead-lettered",
		r.PostsSynced, r.PostsFailed, r.ItemsReplayed, r.ItemsFailed, r.ItemsDead)
	if r.Stopped {
		s += " (stopped: " + r.StopReason + ")"
	}
	return s
}

// Drainer replays the offline queue into a [services.Remote].
type Drainer struct {
	queue   Queue
	remote  services.Remote
	opts    Options
	limiter *rate.Limiter
	running atomic.Bool
}

// NewDrainer creates a Drainer. Zero-valued policy fields fall back to [DefaultRetryPolicy].
func NewDrainer(q Queue, remote services.Remote, opts Options) *Drainer {
	def := DefaultRetryPolicy()
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = def.MaxAttempts
	}
	if opts.Policy.InitialBackoff <= 0 {
		opts.Policy.InitialBackoff = def.InitialBackoff
	}
	if opts.Policy.MaxBackoff < opts.Policy.InitialBackoff {
		opts.Policy.MaxBackoff = max(def.MaxBackoff, opts.Policy.InitialBackoff)
	}
	if opts.Policy.Multiplier < 1 {
		opts.Policy.Multiplier = def.Multiplier
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Drainer{
		queue:   q,
		remote:  remote,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Running reports whether a drain is in progress.
func (d *Drainer) Running() bool { return d.running.Load() }

func (d *Drainer) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	sendProgress(progress, update)
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Drain replays posts and then queued operations.
//
// Delivery failures are recorded on the records and counted in the result, not returned.
// The error is non-nil for storage faults, cancellation, a rejected token, or a drain already in progress.
func (d *Drainer) Drain(ctx context.Context, progress chan<- ProgressUpdate) (*DrainResult, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, shared.ErrDrainInProgress
	}
	defer d.running.Store(false)

	result := &DrainResult{Started: d.opts.Now()}
	err := d.drain(ctx, progress, result)
	result.Finished = d.opts.Now()

	d.record(result, err)
	d.sendProgress(progress, drainDoneUpdate(result))
	d.opts.Logger.Info("drain finished", "summary", result.Summary(), "duration", result.Finished.Sub(result.Started))
	return result, err
}

func (d *Drainer) drain(ctx context.Context, progress chan<- ProgressUpdate, result *DrainResult) error {
	if err := d.queue.Refresh(); err != nil {
		return err
	}

	posts := d.queue.OfflinePosts()
	items := d.queue.QueueItems()
	d.sendProgress(progress, drainStartUpdate(len(posts), len(items)))

	var blockedBy string
	for i, post := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}

		if post.Status == models.PostSynced && !d.opts.KeepSynced {
			if err := d.queue.RemoveOfflinePost(post.ID); err != nil {
				return err
			}
			continue
		}
		if !d.eligible(post) {
			result.PostsSkipped++
			continue
		}

		d.sendProgress(progress, syncPostUpdate(i+1, len(posts), post))
		err := d.syncPost(ctx, post)
		switch {
		case err == nil:
			result.PostsSynced++
		case errors.Is(err, shared.ErrStorage), errors.Is(err, shared.ErrVersionConflict),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, errSkipped):
			result.PostsSkipped++
		default:
			result.PostsFailed++
			d.sendProgress(progress, postFailedUpdate(i+1, len(posts), post, err))
			if errors.Is(err, shared.ErrNotAuthenticated) {
				result.Stopped, result.StopReason = true, "not authenticated"
				return err
			}
			if blockedBy == "" && services.IsRetryable(err) && !d.opts.ContinueOnFailure {
				blockedBy = post.ID
			}
		}
	}

	// Operations may target a post that has not reached the backend yet.
	if blockedBy != "" && len(items) > 0 {
		result.Stopped = true
		result.StopReason = fmt.Sprintf("post %s failed, operations may depend on it", shortID(blockedBy))
		return nil
	}

	return d.replayItems(ctx, progress, items, result)
}

func (d *Drainer) eligible(post models.OfflinePost) bool {
	switch post.Status {
	case models.PostPending:
		return true
	case models.PostFailed:
		return !d.opts.Policy.Exhausted(post.RetryCount)
	default:
		return false
	}
}

var errSkipped = errors.New("skipped")

// syncPost delivers one post. It returns errSkipped when another process took the post first.
func (d *Drainer) syncPost(ctx context.Context, post models.OfflinePost) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	found, err := d.queue.UpdatePostStatus(post.ID, models.PostSyncing)
	if errors.Is(err, shared.ErrInvalidTransition) || (err == nil && !found) {
		return errSkipped
	}
	if err != nil {
		return err
	}

	remoteID, sendErr := d.remote.CreatePost(ctx, post)
	if sendErr != nil {
		record := d.queue.RecordPostFailure
		if errors.Is(sendErr, shared.ErrNotAuthenticated) {
			record = d.queue.ReleasePost
		} else {
			d.opts.Logger.Warn("post sync failed", "id", post.ID, "attempt", post.RetryCount+1, "error", sendErr)
		}
		if _, err := record(post.ID, sendErr); err != nil {
			return err
		}
		return sendErr
	}

	if _, err := d.queue.RecordPostSynced(post.ID, remoteID); err != nil {
		return err
	}
	if !d.opts.KeepSynced {
		if err := d.queue.RemoveOfflinePost(post.ID); err != nil {
			return err
		}
	}
	d.opts.Logger.Debug("post synced", "id", post.ID, "remote_id", remoteID)
	return nil
}

// RetryPost makes one delivery attempt for post id regardless of how many attempts it has used.
func (d *Drainer) RetryPost(ctx context.Context, id string) error {
	if !d.running.CompareAndSwap(false, true) {
		return shared.ErrDrainInProgress
	}
	defer d.running.Store(false)

	if err := d.queue.Refresh(); err != nil {
		return err
	}
	post, ok := d.queue.Post(id)
	if !ok {
		return fmt.Errorf("%w: post %s", shared.ErrNotFound, id)
	}
	if post.Status != models.PostPending && post.Status != models.PostFailed {
		return fmt.Errorf("%w: post %s is %s", shared.ErrInvalidTransition, id, post.Status)
	}

	err := d.syncPost(ctx, post)
	if errors.Is(err, errSkipped) {
		return fmt.Errorf("%w: post %s is being synced elsewhere", shared.ErrInvalidTransition, id)
	}
	return err
}

func (d *Drainer) replayItems(ctx context.Context, progress chan<- ProgressUpdate, items []models.QueueItem, result *DrainResult) error {
	total := len(items)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := d.opts.Now()
		if !item.ReadyAt(now.UnixMilli()) {
			result.ItemsDeferred++
			if d.opts.ContinueOnFailure {
				continue
			}
			result.Stopped = true
			result.StopReason = fmt.Sprintf("%s is waiting until %s", shortID(item.ID), shared.FromMillis(item.NextAttemptAt).Format(time.Kitchen))
			return nil
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		d.sendProgress(progress, replayItemUpdate(i+1, total, item))
		sendErr := d.remote.Replay(ctx, item.Payload)
		if sendErr == nil {
			if err := d.queue.RemoveQueueItem(item.ID); err != nil {
				return err
			}
			result.ItemsReplayed++
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(sendErr, shared.ErrNotAuthenticated) {
			result.Stopped, result.StopReason = true, "not authenticated"
			return sendErr
		}

		if !services.IsRetryable(sendErr) {
			if err := d.deadLetter(progress, i+1, total, item, sendErr.Error(), result); err != nil {
				return err
			}
			continue
		}

		delay := max(d.opts.Policy.Backoff(item.RetryCount+1), services.RetryAfter(sendErr))
		updated, found, err := d.queue.RecordItemFailure(item.ID, sendErr, now.Add(delay).UnixMilli())
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		result.ItemsFailed++
		d.sendProgress(progress, itemFailedUpdate(i+1, total, updated, sendErr))
		d.opts.Logger.Warn("replay failed",
			"id", item.ID,
			"action", item.Payload.Action,
			"attempt", updated.RetryCount,
			"max_attempts", d.opts.Policy.MaxAttempts,
			"next_attempt", now.Add(delay).Format(time.RFC3339),
			"error", sendErr,
		)

		if d.opts.Policy.Exhausted(updated.RetryCount) {
			reason := fmt.Sprintf("gave up after %d attempts: %v", updated.RetryCount, sendErr)
			if err := d.deadLetter(progress, i+1, total, updated, reason, result); err != nil {
				return err
			}
			continue
		}

		if !d.opts.ContinueOnFailure {
			result.Stopped = true
			result.StopReason = fmt.Sprintf("%s failed, later operations may depend on it", item.Payload.Action)
			return nil
		}
	}
	return nil
}

func (d *Drainer) deadLetter(progress chan<- ProgressUpdate, step, total int, item models.QueueItem, reason string, result *DrainResult) error {
	moved, err := d.queue.MoveToDeadLetter(item.ID, reason)
	if err != nil {
		return err
	}
	if moved {
		result.ItemsDead++
		d.sendProgress(progress, deadLetterUpdate(step, total, item, reason))
	}
	return nil
}

func (d *Drainer) record(result *DrainResult, drainErr error) {
	if d.opts.Runs == nil {
		return
	}

	run := &repositories.DrainRun{
		StartedAt:     result.Started,
		FinishedAt:    result.Finished,
		PostsSynced:   result.PostsSynced,
		PostsFailed:   result.PostsFailed,
		ItemsReplayed: result.ItemsReplayed,
		ItemsFailed:   result.ItemsFailed,
		ItemsDead:     result.ItemsDead,
	}
	if drainErr != nil {
		run.ErrorMessage = drainErr.Error()
	} else if result.Stopped {
		run.ErrorMessage = result.StopReason
	}

	if err := d.opts.Runs.Create(run); err != nil {
		d.opts.Logger.Warn("failed to record drain run", "error", err)
	}
}
