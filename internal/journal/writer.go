package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Appender is the storage side of a Writer
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Writer appends entries on a background goroutine. Record never blocks:
// when the buffer is full the entry is dropped and counted.
type Writer struct {
	store  Appender
	logger *slog.Logger

	entries chan Entry
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

const writeTimeout = 5 * time.Second

// NewWriter starts a writer with the given buffer capacity
func NewWriter(store Appender, buffer int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1
	}
	w := &Writer{
		store:   store,
		logger:  logger,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues an entry for writing
func (w *Writer) Record(e Entry) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.entries <- e:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("Journal buffer full, dropping entry",
			"event", e.Event,
			"request_id", e.RequestID,
			"dropped_total", n)
	}
}

// Dropped returns the number of entries discarded because the buffer was full
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close flushes queued entries and stops the writer
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.entries)
	w.mu.Unlock()

	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.store.Append(ctx, e); err != nil {
			w.logger.Error("Failed to write journal entry",
				"event", e.Event,
				"request_id", e.RequestID,
				"error", err)
		}
		cancel()
	}
}
