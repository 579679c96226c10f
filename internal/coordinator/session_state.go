package coordinator

import (
	"sync"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
)

// SessionState is the observable status of a notebook session
type SessionState struct {
	ConnectionStatus channel.Status `json:"connection_status"`
	PendingCount     int            `json:"pending_count"`
}

// LifecycleKind names a coordinator lifecycle event
type LifecycleKind int

const (
	// RequestCreated is observed when an evaluation request is recorded
	RequestCreated LifecycleKind = iota
	// RequestResolved is observed when a request is answered, discarded or cancelled
	RequestResolved
	// ConnectivityChanged is observed when the channel reports a new status
	ConnectivityChanged
	// SessionReset is observed when the session tears down
	SessionReset
)

// LifecycleEvent is fed to the Aggregator by the coordinator
type LifecycleEvent struct {
	Kind   LifecycleKind
	Status channel.Status
}

// Aggregator derives SessionState from lifecycle events and fans it out to
// subscribers. Subscribers always receive the newest state; a slow reader
// only misses intermediate ones.
type Aggregator struct {
	mu     sync.RWMutex
	state  SessionState
	subs   map[int]chan SessionState
	nextID int
	closed bool
}

// NewAggregator creates an aggregator with the given initial status
func NewAggregator(initial channel.Status) *Aggregator {
	return &Aggregator{
		state: SessionState{ConnectionStatus: initial},
		subs:  make(map[int]chan SessionState),
	}
}

// Observe applies a lifecycle event and publishes the result
func (a *Aggregator) Observe(ev LifecycleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.state
	switch ev.Kind {
	case RequestCreated:
		a.state.PendingCount++
	case RequestResolved:
		if a.state.PendingCount > 0 {
			a.state.PendingCount--
		}
	case ConnectivityChanged:
		a.state.ConnectionStatus = ev.Status
	case SessionReset:
		a.state.PendingCount = 0
	}

	if a.state != prev {
		a.publishLocked()
	}
}

// Snapshot returns the current state
func (a *Aggregator) Snapshot() SessionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe returns a channel that immediately receives the current state
// and then every change. The returned function cancels the subscription.
func (a *Aggregator) Subscribe(buffer int) (<-chan SessionState, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan SessionState, buffer)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		ch <- a.state
		close(ch)
		return ch, func() {}
	}

	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	ch <- a.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if sub, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends all subscriptions
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
}

func (a *Aggregator) publishLocked() {
	for _, ch := range a.subs {
		sendLatest(ch, a.state)
	}
}

// sendLatest delivers v, evicting the oldest buffered value when full.
// Callers must be the only sender on ch.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
