package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/shared"
)

// DefaultConflictRetries bounds how many times a mutation is applied when saves keep conflicting.
const DefaultConflictRetries = 3

var errUnchanged = errors.New("unchanged")

// Options configures a [Queue].
type Options struct {
	ConflictRetries int
	Logger          *log.Logger
	// Now returns the current time in epoch milliseconds.
	Now func() int64
}

// EventKind tells observers why they were called.
type EventKind int

const (
	// EventChanged follows a mutation made through this queue.
	EventChanged EventKind = iota
	// EventExternal follows a refresh that found changes written elsewhere.
	EventExternal
)

func (k EventKind) String() string {
	if k == EventExternal {
		return "external"
	}
	return "changed"
}

// Event is passed to observers after the queue's state changes.
type Event struct {
	Kind   EventKind
	Keys   []string
	Status models.Status
}

// Observer is notified after each change. It runs on the goroutine that made the change and must not block.
type Observer func(Event)

// Queue is the offline mutation queue.
type Queue struct {
	store   repositories.Store
	watcher *repositories.Watcher
	logger  *log.Logger
	now     func() int64
	retries int

	mu sync.Mutex // serializes mutations

	snap          sync.RWMutex
	items         []models.QueueItem
	posts         []models.OfflinePost
	dead          []models.DeadLetter
	versions      map[string]int64
	lastTimestamp int64
	closed        bool

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Keys lists the collections owned by a [Queue].
var Keys = []string{models.QueueKey, models.PostsKey, models.DeadLetterKey}

// New creates a Queue over store and loads its collections.
func New(store repositories.Store, opts Options) (*Queue, error) {
	q := &Queue{
		store:     store,
		logger:    opts.Logger,
		now:       opts.Now,
		retries:   opts.ConflictRetries,
		versions:  map[string]int64{},
		observers: map[int]Observer{},
	}
	if q.logger == nil {
		q.logger = log.Default()
	}
	if q.now == nil {
		q.now = shared.NowMillis
	}
	if q.retries <= 0 {
		q.retries = DefaultConflictRetries
	}
	q.watcher = repositories.NewWatcher(store, time.Second, Keys...)

	if _, err := q.reload(Keys...); err != nil {
		return nil, err
	}
	return q, nil
}

// Close stops the queue from accepting mutations and drops all observers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.snap.Lock()
	q.closed = true
	q.snap.Unlock()

	q.obsMu.Lock()
	clear(q.observers)
	q.obsMu.Unlock()
	return nil
}

// OfflinePosts returns a snapshot of the posts in insertion order.
func (q *Queue) OfflinePosts() []models.OfflinePost {
	q.snap.RLock()
	defer q.snap.RUnlock()
	return slices.Clone(q.posts)
}

// QueueItems returns a snapshot of the queued operations in insertion order.
func (q *Queue) QueueItems() []models.QueueItem {
	q.snap.RLock()
	defer q.snap.RUnlock()
	return slices.Clone(q.items)
}

// DeadLetters returns a snapshot of the dead-letter collection.
func (q *Queue) DeadLetters() []models.DeadLetter {
	q.snap.RLock()
	defer q.snap.RUnlock()
	return slices.Clone(q.dead)
}

// Post returns the post with id from the snapshot.
func (q *Queue) Post(id string) (models.OfflinePost, bool) {
	q.snap.RLock()
	defer q.snap.RUnlock()
	i := slices.IndexFunc(q.posts, func(p models.OfflinePost) bool { return p.ID == id })
	if i < 0 {
		return models.OfflinePost{}, false
	}
	return q.posts[i], true
}

// Item returns the queued operation with id from the snapshot.
func (q *Queue) Item(id string) (models.QueueItem, bool) {
	q.snap.RLock()
	defer q.snap.RUnlock()
	i := slices.IndexFunc(q.items, func(it models.QueueItem) bool { return it.ID == id })
	if i < 0 {
		return models.QueueItem{}, false
	}
	return q.items[i], true
}

// Status derives the summary read model from the snapshots.
func (q *Queue) Status() models.Status {
	q.snap.RLock()
	defer q.snap.RUnlock()
	return models.NewStatus(q.items, q.posts, q.dead)
}

// Subscribe registers fn and returns a function that removes it.
func (q *Queue) Subscribe(fn Observer) func() {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()

	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn

	return func() {
		q.obsMu.Lock()
		defer q.obsMu.Unlock()
		delete(q.observers, id)
	}
}

// Refresh reloads every collection and notifies observers if anything changed.
func (q *Queue) Refresh() error {
	q.mu.Lock()
	changed, err := q.reload(Keys...)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	if len(changed) > 0 {
		q.notify(EventExternal, changed)
	}
	return nil
}

// Watch polls storage every interval until ctx is done, refreshing when another process wrote.
func (q *Queue) Watch(ctx context.Context, interval time.Duration) {
	w := repositories.NewWatcher(q.store, interval, Keys...)
	q.snap.Lock()
	w.Observe(maps.Clone(q.versions))
	q.watcher = w
	q.snap.Unlock()

	w.Run(ctx, func(changed []string) {
		q.mu.Lock()
		reloaded, err := q.reload(changed...)
		q.mu.Unlock()
		if err != nil {
			q.logger.Warn("failed to refresh queue", "keys", changed, "error", err)
			return
		}
		if len(reloaded) > 0 {
			q.logger.Debug("queue changed externally", "keys", reloaded)
			q.notify(EventExternal, reloaded)
		}
	}, func(err error) {
		q.logger.Warn("failed to poll queue versions", "error", err)
	})
}

// reload loads keys into the snapshots and returns those whose version moved. Callers hold q.mu.
func (q *Queue) reload(keys ...string) ([]string, error) {
	var changed []string
	for _, key := range keys {
		var (
			version int64
			moved   bool
		)
		switch key {
		case models.QueueKey:
			c, err := repositories.LoadCollection[models.QueueItem](q.store, key)
			if err != nil {
				return changed, err
			}
			version, moved = c.Version, q.setItems(c)
		case models.PostsKey:
			c, err := repositories.LoadCollection[models.OfflinePost](q.store, key)
			if err != nil {
				return changed, err
			}
			version, moved = c.Version, q.setPosts(c)
		case models.DeadLetterKey:
			c, err := repositories.LoadCollection[models.DeadLetter](q.store, key)
			if err != nil {
				return changed, err
			}
			version, moved = c.Version, q.setDead(c)
		default:
			continue
		}
		q.observe(key, version)
		if moved {
			changed = append(changed, key)
		}
	}
	return changed, nil
}

func (q *Queue) observe(key string, version int64) {
	q.snap.RLock()
	w := q.watcher
	q.snap.RUnlock()
	w.Observe(map[string]int64{key: version})
}

func (q *Queue) setItems(c repositories.Collection[models.QueueItem]) bool {
	q.snap.Lock()
	defer q.snap.Unlock()
	moved := q.versions[models.QueueKey] != c.Version
	q.items = c.Records
	q.versions[models.QueueKey] = c.Version
	for _, it := range c.Records {
		q.lastTimestamp = max(q.lastTimestamp, it.Timestamp)
	}
	return moved
}

func (q *Queue) setPosts(c repositories.Collection[models.OfflinePost]) bool {
	q.snap.Lock()
	defer q.snap.Unlock()
	moved := q.versions[models.PostsKey] != c.Version
	q.posts = c.Records
	q.versions[models.PostsKey] = c.Version
	return moved
}

func (q *Queue) setDead(c repositories.Collection[models.DeadLetter]) bool {
	q.snap.Lock()
	defer q.snap.Unlock()
	moved := q.versions[models.DeadLetterKey] != c.Version
	q.dead = c.Records
	q.versions[models.DeadLetterKey] = c.Version
	return moved
}

func (q *Queue) notify(kind EventKind, keys []string) {
	ev := Event{Kind: kind, Keys: keys, Status: q.Status()}

	q.obsMu.Lock()
	observers := make([]Observer, 0, len(q.observers))
	for _, fn := range q.observers {
		observers = append(observers, fn)
	}
	q.obsMu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func (q *Queue) checkOpen() error {
	q.snap.RLock()
	defer q.snap.RUnlock()
	if q.closed {
		return shared.ErrQueueClosed
	}
	return nil
}

// mutate runs a read-modify-write of key, applying fn again on a fresh load after a version conflict.
//
// fn returns errUnchanged to skip the save. The returned flag reports whether the snapshot moved.
func mutate[T any](q *Queue, key string, fn func(records []T) ([]T, error), set func(repositories.Collection[T]) bool) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= q.retries; attempt++ {
		c, err := repositories.LoadCollection[T](q.store, key)
		if err != nil {
			return false, err
		}

		next, err := fn(slices.Clone(c.Records))
		if errors.Is(err, errUnchanged) {
			moved := set(c)
			q.observe(key, c.Version)
			return moved, nil
		}
		if err != nil {
			return false, err
		}

		version, err := repositories.SaveCollection(q.store, key, repositories.Collection[T]{Version: c.Version, Records: next})
		if errors.Is(err, shared.ErrVersionConflict) {
			lastErr = err
			q.logger.Debug("collection changed during write, retrying", "key", key, "attempt", attempt)
			continue
		}
		if err != nil {
			return false, err
		}

		set(repositories.Collection[T]{Version: version, Records: next})
		q.observe(key, version)
		return true, nil
	}

	q.logger.Warn("giving up after repeated write conflicts", "key", key, "attempts", q.retries)
	return false, fmt.Errorf("%w (after %d attempts)", lastErr, q.retries)
}

// run serializes a mutation and notifies observers when it moved the snapshot.
func (q *Queue) run(key string, fn func() (bool, error)) error {
	if err := q.checkOpen(); err != nil {
		return err
	}

	q.mu.Lock()
	moved, err := fn()
	q.mu.Unlock()

	if moved {
		q.notify(EventChanged, []string{key})
	}
	return err
}

func (q *Queue) nextTimestamp(records []models.QueueItem) int64 {
	q.snap.RLock()
	ts := max(q.now(), q.lastTimestamp)
	q.snap.RUnlock()
	if n := len(records); n > 0 {
		ts = max(ts, records[n-1].Timestamp)
	}
	return ts
}
