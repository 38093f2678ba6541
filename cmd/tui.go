package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/desertthunder/murmur/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI for the offline queue.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/murmur-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	d, err := r.drainer(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	observer := connectivity.NewUnknownObserver()
	go r.prober(observer).Run(ctx)
	go q.Watch(ctx, r.config.Queue.WatchInterval.Duration)

	model := ui.NewModel(ctx, q, d, observer)
	defer model.Close()
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
