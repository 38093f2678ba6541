package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/queue"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/desertthunder/murmur/internal/tasks"
	"github.com/urfave/cli/v3"
)

// runHistory is how long drain records are kept.
const runHistory = 30 * 24 * time.Hour

// SyncDrain replays the queue once and prints a summary.
func (r *Runner) SyncDrain(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	if cmd.Bool("recover") {
		ids, err := q.RecoverInterrupted()
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			r.logger.Warn("recovered interrupted posts", "count", len(ids))
		}
	}

	d, err := r.drainer(cmd)
	if err != nil {
		return err
	}

	result, err := r.drainOnce(ctx, d)
	if result != nil {
		r.writePlain("%s\n", result.Summary())
	}
	return err
}

// drainOnce runs d, logging progress, and prunes old drain records.
func (r *Runner) drainOnce(ctx context.Context, d *tasks.Drainer) (*tasks.DrainResult, error) {
	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			switch u.Phase {
			case tasks.DeadLetter:
				r.logger.Warn(u.Message)
			case tasks.DrainDone:
			default:
				r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
			}
		}
	}()

	result, err := d.Drain(ctx, progress)
	close(progress)
	<-done

	if r.db != nil {
		if n, err := repositories.NewDrainRunRepository(r.db).Prune(time.Now().Add(-runHistory)); err != nil {
			r.logger.Warn("failed to prune drain history", "error", err)
		} else if n > 0 {
			r.logger.Debug("pruned drain history", "removed", n)
		}
	}
	return result, err
}

// SyncWatch keeps draining until interrupted: when the backend comes back, when another process queues work,
// and periodically while operations wait out their backoff.
func (r *Runner) SyncWatch(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	d, err := r.drainer(cmd)
	if err != nil {
		return err
	}

	observer := connectivity.NewUnknownObserver()
	go r.prober(observer).Run(ctx)
	go q.Watch(ctx, r.config.Queue.WatchInterval.Duration)

	r.logger.Info("watching queue", "status", q.Status())
	return r.watch(ctx, q, observer, r.config.Connectivity.ProbeInterval.Duration, func(ctx context.Context) error {
		result, err := r.drainOnce(ctx, d)
		if result != nil && (result.PostsSynced+result.ItemsReplayed+result.ItemsDead > 0 || result.Stopped) {
			r.logger.Info("drain finished", "summary", result.Summary())
		}
		return err
	})
}

// watch calls drain when observer comes online, when the queue changes elsewhere while online, and every
// retry interval while online with work pending. It also drains once at startup when observer is already
// online with work pending, since a transition sent before it subscribed is not replayed. It returns nil
// when ctx ends.
func (r *Runner) watch(ctx context.Context, q *queue.Queue, observer *connectivity.Observer, retry time.Duration, drain func(context.Context) error) error {
	if retry <= 0 {
		retry = 15 * time.Second
	}

	transitions, unsubscribe := observer.Subscribe()
	defer unsubscribe()

	trigger := make(chan struct{}, 1)
	unobserve := q.Subscribe(func(ev queue.Event) {
		if ev.Kind != queue.EventExternal || !ev.Status.HasPendingItems {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	defer unobserve()

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	run := func() error {
		if !observer.Online() {
			return nil
		}
		err := drain(ctx)
		switch {
		case err == nil, errors.Is(err, shared.ErrDrainInProgress):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrStorage):
			return err
		default:
			r.logger.Warn("drain failed", "error", err)
			return nil
		}
	}

	if q.Status().HasPendingItems {
		if err := run(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-transitions:
			r.logger.Info("connectivity changed", "transition", t.String())
			if !t.CameOnline() {
				continue
			}
		case <-trigger:
		case <-ticker.C:
			if !q.Status().HasPendingItems {
				continue
			}
		}

		if err := run(); err != nil {
			return err
		}
	}
}
