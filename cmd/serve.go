package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/server"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the local status server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := r.openQueue()
	if err != nil {
		return err
	}
	d, err := r.drainer(nil)
	if err != nil {
		return err
	}

	observer := connectivity.NewUnknownObserver()
	go r.prober(observer).Run(ctx)
	go q.Watch(ctx, r.config.Queue.WatchInterval.Duration)

	if cmd.Bool("watch") {
		go func() {
			err := r.watch(ctx, q, observer, r.config.Connectivity.ProbeInterval.Duration, func(ctx context.Context) error {
				_, err := r.drainOnce(ctx, d)
				return err
			})
			if err != nil {
				r.logger.Error("automatic drain stopped", "error", err)
			}
		}()
	}

	logger := shared.WithLogger(r.logger, "component", "server")
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(logger), server.JSONContent)
	handler := &server.StatusHandler{Source: q, Drainer: d, Online: observer.Online, Logger: logger}
	handler.Register(router)

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	return server.New(addr, router, logger).ListenAndServe(ctx)
}
