// Package coordinator sequences cell evaluations for one open notebook.
//
// Every state transition runs on a single loop goroutine fed by an unbounded
// FIFO: evaluate calls, channel events, worksheet closes and sync barriers
// are processed one at a time. Each evaluation gets a fresh per-cell ordinal
// and only the result carrying the cell's current ordinal is ever applied;
// older results are discarded when they arrive.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/journal"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// Recorder receives journal entries. Implementations must not block.
type Recorder interface {
	Record(e journal.Entry)
}

type nopRecorder struct{}

func (nopRecorder) Record(journal.Entry) {}

// Config holds the collaborators of a Coordinator
type Config struct {
	// SessionID identifies the session in logs and the journal; generated when empty
	SessionID string
	Notebook  *notebook.Notebook
	Channel   channel.Channel
	Recorder  Recorder
	Logger    *slog.Logger

	// NewRequestID and Now default to UUIDv7 and time.Now
	NewRequestID func() string
	Now          func() time.Time
}

// Coordinator is the execution coordinator of one notebook session
type Coordinator struct {
	sessionID string
	notebook  *notebook.Notebook
	channel   channel.Channel
	recorder  Recorder
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	queue *eventQueue
	state *Aggregator
	cells *cellBroadcaster

	// owned by the loop goroutine
	pending *pendingTable
	status  channel.Status

	running      atomic.Bool
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	teardownOnce sync.Once
}

// New creates a coordinator. The channel is started by Run.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Notebook == nil {
		return nil, ErrMissingNotebook
	}
	if cfg.Channel == nil {
		return nil, ErrMissingChannel
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.Must(uuid.NewV7()).String()
	}

	return &Coordinator{
		sessionID: cfg.SessionID,
		notebook:  cfg.Notebook,
		channel:   cfg.Channel,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger.With("session_id", cfg.SessionID),
		newID:     cfg.NewRequestID,
		now:       cfg.Now,
		queue:     newEventQueue(),
		state:     NewAggregator(channel.StatusDisconnected),
		cells:     newCellBroadcaster(),
		pending:   newPendingTable(),
		status:    channel.StatusDisconnected,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// SessionID returns the session identifier
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Notebook returns the notebook this session executes against
func (c *Coordinator) Notebook() *notebook.Notebook {
	return c.notebook
}

// Evaluate requests execution of cell, which must belong to worksheetID.
// The cell source is captured now; the outcome is observed on the cell.
// It never blocks and only fails once the session is closed.
func (c *Coordinator) Evaluate(cell *notebook.Cell, worksheetID string) error {
	if cell == nil {
		return fmt.Errorf("evaluate: %w", notebook.ErrUnknownCell)
	}
	ok := c.queue.Enqueue(loopEvent{
		Type:        loopEvaluate,
		Cell:        cell,
		WorksheetID: worksheetID,
		Source:      cell.Source(),
		At:          c.now(),
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// CloseWorksheet removes a worksheet from the notebook and cancels its
// outstanding requests
func (c *Coordinator) CloseWorksheet(worksheetID string) error {
	if !c.queue.Enqueue(loopEvent{Type: loopCloseWorksheet, WorksheetID: worksheetID}) {
		return ErrClosed
	}
	return nil
}

// Sync returns once every event queued before the call has been processed
func (c *Coordinator) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !c.queue.Enqueue(loopEvent{Type: loopBarrier, Done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the outstanding requests, oldest first
func (c *Coordinator) Pending(ctx context.Context) ([]PendingRequest, error) {
	reply := make(chan []PendingRequest, 1)
	if !c.queue.Enqueue(loopEvent{Type: loopPendingQuery, Reply: reply}) {
		return nil, ErrClosed
	}
	select {
	case pending, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		return pending, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionState returns the current session state
func (c *Coordinator) SessionState() SessionState {
	return c.state.Snapshot()
}

// SubscribeSession streams session state, newest value first available
func (c *Coordinator) SubscribeSession(buffer int) (<-chan SessionState, func()) {
	return c.state.Subscribe(buffer)
}

// SubscribeCells streams cell changes made by the coordinator
func (c *Coordinator) SubscribeCells(buffer int) (<-chan CellChange, func()) {
	return c.cells.subscribe(buffer)
}

// Run starts the channel and processes events until ctx is cancelled or
// Stop is called. On return the session is torn down.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	select {
	case <-c.stop:
		c.teardown()
		return ErrClosed
	default:
	}

	if err := c.channel.Start(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("failed to start channel: %w", err)
	}
	defer c.teardown()

	go c.pump(ctx)

	c.logger.InfoContext(ctx, "Coordinator started", "notebook_id", c.notebook.ID())

	for {
		c.drain()
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-c.queue.Wait():
		}
	}
}

// Stop ends Run and waits for teardown
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.running.Load() {
		<-c.done
		return
	}
	c.teardown()
}

// pump forwards channel events into the loop
func (c *Coordinator) pump(ctx context.Context) {
	events := c.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.deliver(ev)
		}
	}
}

func (c *Coordinator) deliver(ev channel.Event) {
	c.queue.Enqueue(loopEvent{Type: loopChannel, Channel: ev})
}

func (c *Coordinator) drain() {
	for {
		ev, ok := c.queue.TryDequeue()
		if !ok {
			return
		}
		c.handle(ev)
	}
}

func (c *Coordinator) handle(ev loopEvent) {
	switch ev.Type {
	case loopEvaluate:
		c.handleEvaluate(ev)
	case loopChannel:
		c.handleChannelEvent(ev.Channel)
	case loopCloseWorksheet:
		c.handleCloseWorksheet(ev.WorksheetID)
	case loopBarrier:
		close(ev.Done)
	case loopPendingQuery:
		ev.Reply <- c.pending.snapshot()
	}
}

// teardown destroys all pending requests and releases subscribers and
// waiters. The loop must not be running.
func (c *Coordinator) teardown() {
	c.teardownOnce.Do(func() {
		c.queue.Close()

		if err := c.channel.Close(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Failed to close channel", "error", err)
		}

		for {
			ev, ok := c.queue.TryDequeue()
			if !ok {
				break
			}
			switch ev.Type {
			case loopBarrier:
				close(ev.Done)
			case loopPendingQuery:
				close(ev.Reply)
			}
		}

		abandoned := c.abandonAll()
		c.state.Observe(LifecycleEvent{Kind: SessionReset})
		c.state.Close()
		c.cells.close()

		c.logger.Info("Coordinator stopped", "abandoned_requests", abandoned)
	})
}
