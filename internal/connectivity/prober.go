package connectivity

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// CheckFunc reports whether the backend is reachable; nil means online.
type CheckFunc func(ctx context.Context) error

// Prober polls a health check and feeds the result to an [Observer].
type Prober struct {
	check    CheckFunc
	observer *Observer
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

// NewProber creates a Prober. Non-positive durations fall back to 15s and 3s.
func NewProber(check CheckFunc, observer *Observer, interval, timeout time.Duration, logger *log.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Prober{check: check, observer: observer, interval: interval, timeout: timeout, logger: logger}
}

// Probe runs one check and updates the observer, returning the observed state.
func (p *Prober) Probe(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	err := p.check(ctx)
	if err != nil && parent.Err() != nil {
		return p.observer.Online()
	}
	online := err == nil
	if p.observer.Set(online) {
		if online {
			p.logger.Info("backend reachable")
		} else {
			p.logger.Warn("backend unreachable", "error", err)
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
