package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/murmur/internal/formatter"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/desertthunder/murmur/internal/tasks"
	"github.com/urfave/cli/v3"
)

// QueueAdd appends an operation to the queue.
func (r *Runner) QueueAdd(ctx context.Context, cmd *cli.Command) error {
	action := cmd.StringArg("action")
	if action == "" {
		return fmt.Errorf("%w: action", shared.ErrMissingArgument)
	}

	endpoint := cmd.String("endpoint")
	if endpoint == "" {
		endpoint = "/rest/v1/" + action
	}

	payload := models.Payload{Action: action, Method: strings.ToUpper(cmd.String("method")), Endpoint: endpoint}
	if data := cmd.String("args"); data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("%w: --args is not valid JSON", shared.ErrInvalidInput)
		}
		payload.Args = json.RawMessage(data)
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	id, err := q.AddToQueue(payload)
	if err != nil {
		return err
	}

	r.logger.Info("operation queued", "id", id, "action", action)
	return r.writePlain("✓ Operation %s queued\n", id)
}

// QueueList prints queued operations in replay order.
func (r *Runner) QueueList(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	items := q.QueueItems()
	if cmd.Bool("json") {
		if items == nil {
			items = []models.QueueItem{}
		}
		return r.writeJSON(items, true)
	}

	if len(items) == 0 {
		return r.writePlain("Queue is empty\n")
	}
	r.writePlainHeader(fmt.Sprintf("Queued operations (%d)", len(items)))
	for i, it := range items {
		r.writePlain("%d. %s  %s %s %s\n", i+1, it.ID, it.Payload.HTTPMethod(), it.Payload.Action, it.Payload.Endpoint)
		if it.RetryCount > 0 {
			r.writePlain("    attempts: %d  next: %s  last error: %s\n", it.RetryCount,
				shared.FromMillis(it.NextAttemptAt).Format(time.DateTime), it.LastError)
		}
	}
	return nil
}

type statusReport struct {
	models.Status
	Probed  bool                     `json:"probed"`
	History []*repositories.DrainRun `json:"history,omitempty"`
}

// QueueStatus prints the derived status, optionally probing the backend and listing recent drains.
func (r *Runner) QueueStatus(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	report := statusReport{Status: q.Status()}
	if cmd.Bool("probe") {
		report.Probed = true
		if err := r.backend().Health(ctx); err != nil {
			r.logger.Debug("backend probe failed", "error", err)
		} else {
			report.Online = true
		}
	}
	if n := int(cmd.Int("history")); n > 0 {
		runs, err := repositories.NewDrainRunRepository(r.db).Recent(n)
		if err != nil {
			return err
		}
		report.History = runs
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}

	s := report.Status
	r.writePlainHeader("Offline queue")
	r.writePlain("Operations:   %d\n", s.QueueLength)
	r.writePlain("Posts:        %d (%d failed)\n", s.PostsLength, s.FailedPosts)
	r.writePlain("Dead letters: %d\n", s.DeadLetters)
	r.writePlain("Pending:      %v\n", s.HasPendingItems)
	if report.Probed {
		state := "offline"
		if s.Online {
			state = "online"
		}
		r.writePlain("Backend:      %s\n", state)
	}

	if len(report.History) > 0 {
		r.writePlainln("Recent drains:")
		for _, run := range report.History {
			line := fmt.Sprintf("%s  %s  posts %d/%d  ops %d replayed, %d failed, %d dead",
				run.StartedAt.Local().Format(time.DateTime), run.Duration().Round(time.Millisecond),
				run.PostsSynced, run.PostsSynced+run.PostsFailed, run.ItemsReplayed, run.ItemsFailed, run.ItemsDead)
			if run.ErrorMessage != "" {
				line += "  (" + run.ErrorMessage + ")"
			}
			r.writePlain("%s\n", line)
		}
	}
	return nil
}

// QueueRemove deletes a queued operation.
func (r *Runner) QueueRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: operation id", shared.ErrMissingArgument)
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	if _, ok := q.Item(id); !ok {
		return fmt.Errorf("%w: operation %s", shared.ErrNotFound, id)
	}
	if err := q.RemoveQueueItem(id); err != nil {
		return err
	}
	return r.writePlain("✓ Operation %s removed\n", id)
}

// QueueClear empties every collection.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: pass --yes to delete every queued post and operation", shared.ErrMissingArgument)
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	before := q.Status()
	if err := q.ClearAll(); err != nil {
		return err
	}

	r.logger.Warn("queue cleared", "posts", before.PostsLength, "operations", before.QueueLength, "dead", before.DeadLetters)
	return r.writePlain("✓ Cleared %d post(s), %d operation(s), %d dead letter(s)\n",
		before.PostsLength, before.QueueLength, before.DeadLetters)
}

// QueueDead lists dead letters.
func (r *Runner) QueueDead(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	dead := q.DeadLetters()
	if cmd.Bool("json") {
		if dead == nil {
			dead = []models.DeadLetter{}
		}
		return r.writeJSON(dead, true)
	}

	if len(dead) == 0 {
		return r.writePlain("No dead letters\n")
	}
	r.writePlainHeader(fmt.Sprintf("Dead letters (%d)", len(dead)))
	for _, d := range dead {
		r.writePlain("%s  %s %s  %s\n", d.Item.ID, d.Item.Payload.HTTPMethod(), d.Item.Payload.Action,
			shared.FromMillis(d.DeadAt).Format(time.DateTime))
		r.writePlain("    %s\n", d.Reason)
	}
	return nil
}

// QueueRequeue moves a dead letter back to the end of the queue.
func (r *Runner) QueueRequeue(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: dead letter id", shared.ErrMissingArgument)
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	found, err := q.Requeue(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: dead letter %s", shared.ErrNotFound, id)
	}
	return r.writePlain("✓ Operation %s requeued\n", id)
}

// QueueDiscard deletes one dead letter, or all of them with --all.
func (r *Runner) QueueDiscard(ctx context.Context, cmd *cli.Command) error {
	q, err := r.openQueue()
	if err != nil {
		return err
	}

	if cmd.Bool("all") {
		n := len(q.DeadLetters())
		if err := q.ClearDeadLetters(); err != nil {
			return err
		}
		return r.writePlain("✓ Discarded %d dead letter(s)\n", n)
	}

	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: dead letter id or --all", shared.ErrMissingArgument)
	}
	if err := q.DiscardDeadLetter(id); err != nil {
		return err
	}
	return r.writePlain("✓ Dead letter %s discarded\n", id)
}

// QueueExport writes the queue contents in the requested formats.
func (r *Runner) QueueExport(ctx context.Context, cmd *cli.Command) error {
	var formats []formatter.Format
	for _, v := range cmd.StringSlice("format") {
		for part := range strings.SplitSeq(v, ",") {
			f, err := formatter.ParseFormat(strings.TrimSpace(part))
			if err != nil {
				return err
			}
			formats = append(formats, f)
		}
	}

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	if err := q.Refresh(); err != nil {
		return err
	}

	snap := formatter.Snapshot{
		ExportedAt:  time.Now(),
		Status:      q.Status(),
		Posts:       q.OfflinePosts(),
		Items:       q.QueueItems(),
		DeadLetters: q.DeadLetters(),
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			r.logger.Info(u.Message, "step", u.Step, "total", u.Total)
		}
	}()

	result, err := tasks.ExportSnapshots(ctx, progress, snap, tasks.ExportOpts{
		Formats:    formats,
		OutputDir:  cmd.String("output"),
		NumWorkers: int(cmd.Int("workers")),
	})
	close(progress)
	<-done
	if result == nil {
		return err
	}

	for _, f := range result.Files {
		if f.Error != nil {
			r.writePlain("✗ %s: %v\n", f.Path, f.Error)
			continue
		}
		r.writePlain("✓ %s\n", f.Path)
	}
	if result.ManifestPath != "" {
		r.writePlain("Manifest: %s\n", result.ManifestPath)
	}
	return err
}
