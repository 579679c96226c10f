package coordinator

import (
	"sync"

	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// CellChange notifies observers that a cell's execution fields changed
type CellChange struct {
	WorksheetID string                `json:"worksheet_id"`
	Cell        notebook.CellSnapshot `json:"cell"`
}

// cellBroadcaster fans cell changes out to subscribers. A subscriber that
// falls behind loses its oldest buffered changes.
type cellBroadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan CellChange
	nextID int
	closed bool
}

func newCellBroadcaster() *cellBroadcaster {
	return &cellBroadcaster{
		subs: make(map[int]chan CellChange),
	}
}

func (b *cellBroadcaster) subscribe(buffer int) (<-chan CellChange, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan CellChange, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *cellBroadcaster) publish(change CellChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		sendLatest(ch, change)
	}
}

func (b *cellBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
