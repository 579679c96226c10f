package channel

import "sync"

// emitter decouples event producers from the consumer of Events so that
// producers, Submit included, never block on a slow reader.
type emitter struct {
	mu      sync.Mutex
	queue   []Event
	running bool
	stopped bool

	signal chan struct{}
	out    chan Event
	done   chan struct{}
}

func newEmitter(buffer int) *emitter {
	if buffer <= 0 {
		buffer = 1
	}
	return &emitter{
		signal: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *emitter) pop() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Event{}, false
	}
	ev := e.queue[0]
	e.queue[0] = Event{}
	e.queue = e.queue[1:]
	return ev, true
}

// start launches the forwarding goroutine once
func (e *emitter) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running || e.stopped {
		return
	}
	e.running = true
	go e.run()
}

func (e *emitter) run() {
	defer close(e.out)
	for {
		ev, ok := e.pop()
		if !ok {
			select {
			case <-e.signal:
				continue
			case <-e.done:
				return
			}
		}
		select {
		case e.out <- ev:
		case <-e.done:
			return
		}
	}
}

// stop ends forwarding and closes out. Undelivered events are dropped.
func (e *emitter) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.done)
	if !e.running {
		close(e.out)
	}
}
