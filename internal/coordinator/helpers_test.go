package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/journal"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// fakeChannel records submits; tests inject events with harness.deliver
type fakeChannel struct {
	mu        sync.Mutex
	submits   []channel.Request
	events    chan channel.Event
	started   bool
	closed    bool
	startErr  error
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan channel.Event, 64)}
}

func (f *fakeChannel) Submit(req channel.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
}

func (f *fakeChannel) Events() <-chan channel.Event {
	return f.events
}

func (f *fakeChannel) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeChannel) submitted() []channel.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]channel.Request, len(f.submits))
	copy(out, f.submits)
	return out
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memRecorder) Record(e journal.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memRecorder) all() []journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memRecorder) events() []journal.Event {
	var out []journal.Event
	for _, e := range m.all() {
		out = append(out, e.Event)
	}
	return out
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("req-%d", n)
	}
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t    *testing.T
	c    *Coordinator
	ch   *fakeChannel
	rec  *memRecorder
	nb   *notebook.Notebook
	ws   *notebook.Worksheet
	errs chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	nb := notebook.New("nb")
	ws, err := nb.AddWorksheet("ws1")
	require.NoError(t, err)

	h := &harness{
		t:    t,
		ch:   newFakeChannel(),
		rec:  &memRecorder{},
		nb:   nb,
		ws:   ws,
		errs: make(chan error, 1),
	}

	h.c, err = New(Config{
		SessionID:    "session-1",
		Notebook:     nb,
		Channel:      h.ch,
		Recorder:     h.rec,
		NewRequestID: sequentialIDs(),
		Now:          func() time.Time { return fixedTime },
	})
	require.NoError(t, err)

	go func() { h.errs <- h.c.Run(context.Background()) }()
	t.Cleanup(h.c.Stop)
	return h
}

func (h *harness) cell(id, source string) *notebook.Cell {
	h.t.Helper()
	cell, err := h.ws.AddCell(id, source)
	require.NoError(h.t, err)
	return cell
}

func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.c.Sync(ctx))
}

func (h *harness) evaluate(cell *notebook.Cell) {
	h.t.Helper()
	require.NoError(h.t, h.c.Evaluate(cell, h.ws.ID()))
	h.sync()
}

func (h *harness) deliver(ev channel.Event) {
	h.t.Helper()
	h.c.deliver(ev)
	h.sync()
}

func (h *harness) connectivity(status channel.Status) {
	h.t.Helper()
	h.deliver(channel.Connectivity(status))
}

func (h *harness) accept(cellID string, ordinal uint64) {
	h.t.Helper()
	h.deliver(h.event(channel.EventAccepted, cellID, ordinal))
}

func (h *harness) result(cellID string, ordinal uint64, ok bool, payload string) {
	h.t.Helper()
	ev := h.event(channel.EventResult, cellID, ordinal)
	ev.OK = ok
	ev.Payload = payload
	h.deliver(ev)
}

func (h *harness) reject(cellID string, ordinal uint64, reason string) {
	h.t.Helper()
	ev := h.event(channel.EventRejected, cellID, ordinal)
	ev.Reason = reason
	h.deliver(ev)
}

// event builds a channel event answering the latest request for the key
func (h *harness) event(kind channel.EventKind, cellID string, ordinal uint64) channel.Event {
	h.t.Helper()
	key := h.key(cellID, ordinal)
	return channel.Event{Kind: kind, Key: key, RequestID: h.requestID(key)}
}

// requestID finds the id of the most recent request for key, submitted or
// still held in the outbox
func (h *harness) requestID(key channel.Key) string {
	h.t.Helper()
	submits := h.ch.submitted()
	for i := len(submits) - 1; i >= 0; i-- {
		if submits[i].Key() == key {
			return submits[i].RequestID
		}
	}
	for _, p := range h.pending() {
		if p.Key == key {
			return p.RequestID
		}
	}
	return ""
}

func (h *harness) key(cellID string, ordinal uint64) channel.Key {
	return channel.Key{WorksheetID: h.ws.ID(), CellID: cellID, Ordinal: ordinal}
}

func (h *harness) pending() []PendingRequest {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := h.c.Pending(ctx)
	require.NoError(h.t, err)
	return p
}

func (h *harness) pendingCount() int {
	return h.c.SessionState().PendingCount
}
