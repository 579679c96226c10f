package coordinator

import (
	"fmt"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/journal"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// maxDetailRunes bounds payload text copied into the journal
const maxDetailRunes = 256

func (c *Coordinator) handleEvaluate(ev loopEvent) {
	cell := ev.Cell

	ws, ok := c.notebook.Worksheet(ev.WorksheetID)
	if !ok {
		c.rejectPrecondition(ev, fmt.Sprintf(config.ErrUnknownWorksheet, ev.WorksheetID))
		return
	}
	if !ws.Contains(cell) {
		c.rejectPrecondition(ev, fmt.Sprintf(config.ErrUnknownCell, cell.ID(), ev.WorksheetID))
		return
	}

	// Re-evaluating identical source while the backend is running it changes nothing
	if cell.State() == notebook.StateExecuting {
		current := channel.Key{WorksheetID: ev.WorksheetID, CellID: cell.ID(), Ordinal: cell.Ordinal()}
		if p, found := c.pending.current(current, cell); found && p.Source == ev.Source {
			c.logger.Debug("Ignoring duplicate evaluate",
				"worksheet_id", ev.WorksheetID,
				"cell_id", cell.ID(),
				"ordinal", current.Ordinal)
			return
		}
	}

	ordinal := cell.Queue()
	key := channel.Key{WorksheetID: ev.WorksheetID, CellID: cell.ID(), Ordinal: ordinal}
	p := &PendingRequest{
		Key:         key,
		RequestID:   c.newID(),
		WorksheetID: key.WorksheetID,
		CellID:      key.CellID,
		Ordinal:     ordinal,
		SubmittedAt: ev.At,
		Source:      ev.Source,
		cell:        cell,
	}
	c.pending.add(p)
	c.state.Observe(LifecycleEvent{Kind: RequestCreated})
	c.notify(ev.WorksheetID, cell)

	if c.status == channel.StatusConnected {
		c.submit(p)
		return
	}

	c.pending.hold(p.RequestID)
	c.record(p, journal.EventQueuedOffline, string(c.status))
	c.logger.Info("Channel not connected, request held in outbox",
		"worksheet_id", key.WorksheetID,
		"cell_id", key.CellID,
		"ordinal", ordinal,
		"status", c.status)
}

func (c *Coordinator) submit(p *PendingRequest) {
	p.Sent = true
	c.channel.Submit(p.request())
	c.record(p, journal.EventSubmitted, "")
	c.logger.Debug("Request submitted",
		"request_id", p.RequestID,
		"worksheet_id", p.Key.WorksheetID,
		"cell_id", p.Key.CellID,
		"ordinal", p.Key.Ordinal)
}

func (c *Coordinator) handleChannelEvent(ev channel.Event) {
	switch ev.Kind {
	case channel.EventConnectivity:
		c.onConnectivity(ev.Status)
	case channel.EventAccepted:
		c.onAccepted(ev)
	case channel.EventRejected:
		c.onRejected(ev)
	case channel.EventResult:
		c.onResult(ev)
	default:
		c.logger.Warn("Ignoring unknown channel event", "kind", ev.Kind)
	}
}

func (c *Coordinator) onConnectivity(status channel.Status) {
	if status == c.status {
		return
	}
	previous := c.status
	c.status = status
	c.state.Observe(LifecycleEvent{Kind: ConnectivityChanged, Status: status})

	c.logger.Info("Connectivity changed", "from", previous, "to", status)

	if status != channel.StatusConnected {
		return
	}
	held := c.pending.drainOutbox()
	for _, p := range held {
		c.submit(p)
	}
	if len(held) > 0 {
		c.logger.Info("Flushed outbox", "requests", len(held))
	}
}

// match finds the pending request an event answers. Events are matched by
// request id; one whose key disagrees with the request it names is ignored.
func (c *Coordinator) match(ev channel.Event) (*PendingRequest, bool) {
	p, ok := c.pending.get(ev.RequestID)
	if !ok {
		c.logger.Debug("Ignoring event for unknown or resolved request",
			"kind", ev.Kind.String(),
			"request_id", ev.RequestID,
			"worksheet_id", ev.Key.WorksheetID,
			"cell_id", ev.Key.CellID,
			"ordinal", ev.Key.Ordinal)
		return nil, false
	}
	if p.Key != ev.Key {
		c.logger.Warn("Ignoring event whose key does not match its request",
			"kind", ev.Kind.String(),
			"request_id", ev.RequestID,
			"request_key", p.Key.String(),
			"event_key", ev.Key.String())
		return nil, false
	}
	return p, true
}

// attached reports whether the cell of p is still part of its worksheet
func (c *Coordinator) attached(p *PendingRequest) bool {
	ws, ok := c.notebook.Worksheet(p.Key.WorksheetID)
	return ok && ws.Contains(p.cell)
}

// resolve destroys p. It reports false when the cell was removed from its
// worksheet, in which case the response must not be applied.
func (c *Coordinator) resolve(p *PendingRequest) bool {
	c.pending.remove(p.RequestID)
	c.state.Observe(LifecycleEvent{Kind: RequestResolved})
	if !c.attached(p) {
		c.record(p, journal.EventStale, config.MsgCellDetached)
		return false
	}
	return true
}

func (c *Coordinator) onAccepted(ev channel.Event) {
	p, ok := c.match(ev)
	if !ok || !c.attached(p) {
		return
	}
	if p.cell.MarkExecuting(p.Key.Ordinal) {
		c.notify(p.Key.WorksheetID, p.cell)
		c.record(p, journal.EventAccepted, "")
	}
}

func (c *Coordinator) onRejected(ev channel.Event) {
	p, ok := c.match(ev)
	if !ok || !c.resolve(p) {
		return
	}

	key, reason := p.Key, ev.Reason
	detail := notebook.ErrorDetail{Kind: notebook.ErrorKindTransportRejected, Message: reason}
	if !p.cell.Fail(key.Ordinal, detail) {
		c.record(p, journal.EventStale, "rejected: "+reason)
		return
	}
	c.notify(key.WorksheetID, p.cell)
	c.record(p, journal.EventRejected, reason)
	c.logger.Warn("Request rejected by channel",
		"request_id", p.RequestID,
		"worksheet_id", key.WorksheetID,
		"cell_id", key.CellID,
		"ordinal", key.Ordinal,
		"reason", reason)
}

func (c *Coordinator) discardStale(p *PendingRequest) {
	c.record(p, journal.EventStale, fmt.Sprintf("current ordinal is %d", p.cell.Ordinal()))
	c.logger.Debug("Discarding stale result",
		"worksheet_id", p.Key.WorksheetID,
		"cell_id", p.Key.CellID,
		"ordinal", p.Key.Ordinal,
		"current_ordinal", p.cell.Ordinal())
}

// onResult applies a result for the cell's current ordinal and discards any
// other. A result for a request that is no longer pending is a duplicate
// delivery and changes nothing.
func (c *Coordinator) onResult(ev channel.Event) {
	p, found := c.match(ev)
	if !found || !c.resolve(p) {
		return
	}

	key, ok, payload := p.Key, ev.OK, ev.Payload
	if !p.cell.IsCurrent(key.Ordinal) {
		c.discardStale(p)
		return
	}

	var applied bool
	if ok {
		applied = p.cell.Complete(key.Ordinal, payload)
	} else {
		applied = p.cell.Fail(key.Ordinal, notebook.ErrorDetail{
			Kind:    notebook.ErrorKindBackend,
			Message: payload,
		})
	}
	if !applied {
		c.discardStale(p)
		return
	}

	c.notify(key.WorksheetID, p.cell)
	if ok {
		c.record(p, journal.EventApplied, truncate(payload))
	} else {
		c.record(p, journal.EventFailed, truncate(payload))
	}
}

func (c *Coordinator) handleCloseWorksheet(worksheetID string) {
	cancelled := c.pending.matching(func(p *PendingRequest) bool {
		return p.Key.WorksheetID == worksheetID
	})

	for _, p := range cancelled {
		c.pending.remove(p.RequestID)
		c.state.Observe(LifecycleEvent{Kind: RequestResolved})
		detail := notebook.ErrorDetail{Kind: notebook.ErrorKindCancelled, Message: config.MsgWorksheetClosed}
		if p.cell.Fail(p.Key.Ordinal, detail) {
			c.notify(worksheetID, p.cell)
		}
		c.record(p, journal.EventCancelled, config.MsgWorksheetClosed)
	}

	if err := c.notebook.RemoveWorksheet(worksheetID); err != nil {
		c.logger.Warn("Failed to remove worksheet", "worksheet_id", worksheetID, "error", err)
	}

	c.logger.Info("Worksheet closed",
		"worksheet_id", worksheetID,
		"cancelled_requests", len(cancelled))
}

// abandonAll destroys every pending request at teardown
func (c *Coordinator) abandonAll() int {
	all := c.pending.matching(func(*PendingRequest) bool { return true })
	for _, p := range all {
		c.pending.remove(p.RequestID)
		c.record(p, journal.EventCancelled, config.MsgSessionClosed)
	}
	c.pending.outbox = nil
	return len(all)
}

func (c *Coordinator) rejectPrecondition(ev loopEvent, reason string) {
	c.logger.Warn("Evaluate precondition failed",
		"worksheet_id", ev.WorksheetID,
		"cell_id", ev.Cell.ID(),
		"reason", reason)
	c.recorder.Record(journal.Entry{
		SessionID:   c.sessionID,
		WorksheetID: ev.WorksheetID,
		CellID:      ev.Cell.ID(),
		Ordinal:     ev.Cell.Ordinal(),
		Event:       journal.EventRejectedPrecondition,
		Detail:      reason,
		RecordedAt:  c.now(),
	})
}

func (c *Coordinator) notify(worksheetID string, cell *notebook.Cell) {
	c.cells.publish(CellChange{WorksheetID: worksheetID, Cell: cell.Snapshot()})
}

func (c *Coordinator) record(p *PendingRequest, event journal.Event, detail string) {
	c.recorder.Record(journal.Entry{
		SessionID:   c.sessionID,
		RequestID:   p.RequestID,
		WorksheetID: p.Key.WorksheetID,
		CellID:      p.Key.CellID,
		Ordinal:     p.Key.Ordinal,
		Event:       event,
		Detail:      detail,
		RecordedAt:  c.now(),
	})
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailRunes {
		return s
	}
	return string(r[:maxDetailRunes]) + "…"
}
