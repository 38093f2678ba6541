package repositories

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Watcher polls collection versions and reports keys whose version moved.
type Watcher struct {
	store    Store
	keys     []string
	interval time.Duration

	mu   sync.Mutex
	seen map[string]int64
}

// NewWatcher creates a Watcher for keys, polling every interval.
func NewWatcher(store Store, interval time.Duration, keys ...string) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{store: store, keys: keys, interval: interval, seen: map[string]int64{}}
}

// Observe records versions the caller already knows about, usually after its own save.
func (w *Watcher) Observe(versions map[string]int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range versions {
		if v > w.seen[k] {
			w.seen[k] = v
		}
	}
}

// Poll checks versions once and returns keys that changed since the last poll or observation.
func (w *Watcher) Poll() ([]string, error) {
	versions, err := w.store.Versions(w.keys...)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var changed []string
	for _, k := range w.keys {
		if versions[k] != w.seen[k] {
			changed = append(changed, k)
		}
	}
	maps.Copy(w.seen, versions)
	return changed, nil
}

// Run polls until ctx is done, calling fn with each non-empty set of changed keys.
//
// Versions are compared with what was last polled or observed, so seed the watcher with [Watcher.Observe]
// before running it. Poll errors are passed to onErr when it is non-nil.
func (w *Watcher) Run(ctx context.Context, fn func(changed []string), onErr func(error)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := w.Poll()
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			if len(changed) > 0 {
				fn(changed)
			}
		}
	}
}
