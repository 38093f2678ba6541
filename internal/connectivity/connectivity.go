// Package connectivity tracks whether the backend is reachable.
//
// An [Observer] holds the online/offline state and emits a [Transition] exactly once per change.
// A [Prober] feeds it by polling a health check. Neither triggers a drain; callers subscribe and decide.
package connectivity

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Transition is emitted when connectivity changes.
type Transition struct {
	Online bool
	At     time.Time
}

// CameOnline reports whether this is an offline → online transition.
func (t Transition) CameOnline() bool { return t.Online }

func (t Transition) String() string {
	if t.Online {
		return "online"
	}
	return "offline"
}

// Observer holds the current connectivity state.
type Observer struct {
	mu      sync.Mutex
	online  bool
	known   bool
	since   time.Time
	subs    map[int]chan Transition
	nextSub int
	now     func() time.Time
}

// NewObserver creates an Observer that starts in the given state.
//
// The initial state is not emitted; the first differing [Observer.Set] is.
func NewObserver(online bool) *Observer {
	return &Observer{
		online: online,
		known:  true,
		since:  time.Now(),
		subs:   map[int]chan Transition{},
		now:    time.Now,
	}
}

// NewUnknownObserver creates an Observer whose first [Observer.Set] always emits.
func NewUnknownObserver() *Observer {
	o := NewObserver(false)
	o.known = false
	return o
}

// Online returns the current state.
func (o *Observer) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Since returns when the current state began.
func (o *Observer) Since() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.since
}

// Set records a connectivity signal and reports whether it changed the state.
// Repeated signals for the current state are dropped.
func (o *Observer) Set(online bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.known && o.online == online {
		return false
	}

	o.online = online
	o.known = true
	o.since = o.now()
	tr := Transition{Online: online, At: o.since}

	for _, ch := range o.subs {
		select {
		case ch <- tr:
		default:
			log.Debug("dropping connectivity transition for slow subscriber", "online", online)
		}
	}
	return true
}

// Subscribe returns a channel of transitions and a function that closes it.
//
// The channel is buffered; a subscriber that falls behind misses transitions rather than blocking [Observer.Set].
func (o *Observer) Subscribe() (<-chan Transition, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan Transition, 8)
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}
