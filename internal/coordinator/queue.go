package coordinator

import (
	"sync"
	"time"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// loopEventType distinguishes the inputs of the coordinator loop
type loopEventType int

const (
	loopEvaluate loopEventType = iota + 1
	loopChannel
	loopCloseWorksheet
	loopBarrier
	loopPendingQuery
)

// loopEvent is one unit of work for the coordinator loop
type loopEvent struct {
	Type loopEventType

	// loopEvaluate
	Cell        *notebook.Cell
	WorksheetID string
	Source      string
	At          time.Time

	// loopChannel
	Channel channel.Event

	// loopBarrier
	Done chan struct{}

	// loopPendingQuery
	Reply chan []PendingRequest
}

// eventQueue is an unbounded FIFO feeding the single coordinator loop.
// Enqueue is safe from any goroutine and never blocks; only the loop dequeues.
type eventQueue struct {
	mu     sync.Mutex
	events []loopEvent
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]loopEvent, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e loopEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking
func (q *eventQueue) TryDequeue() (loopEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return loopEvent{}, false
	}

	e := q.events[0]
	// release references held by the backing array
	q.events[0] = loopEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait signals that events may be available
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events. Already queued events can still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
