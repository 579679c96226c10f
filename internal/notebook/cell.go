// Package notebook holds the document model the coordinator executes against:
// notebooks own worksheets, worksheets own an ordered list of cells.
package notebook

import (
	"sync"
)

// ExecutionState represents the lifecycle state of a cell evaluation
type ExecutionState string

const (
	// StateIdle is the initial state of a freshly created cell
	StateIdle ExecutionState = "idle"
	// StateQueued indicates an evaluation request exists but the backend has not accepted it
	StateQueued ExecutionState = "queued"
	// StateExecuting indicates the backend accepted the current request
	StateExecuting ExecutionState = "executing"
	// StateCompleted indicates the current request produced a result
	StateCompleted ExecutionState = "completed"
	// StateFailed indicates the current request was rejected or errored
	StateFailed ExecutionState = "failed"
)

// ErrorKind classifies the error detail attached to a failed cell
type ErrorKind string

const (
	// ErrorKindBackend marks a failure reported by the execution backend
	ErrorKindBackend ErrorKind = "backend_error"
	// ErrorKindTransportRejected marks a request the channel refused to submit
	ErrorKindTransportRejected ErrorKind = "transport_rejected"
	// ErrorKindCancelled marks a request dropped because its worksheet closed
	ErrorKindCancelled ErrorKind = "cancelled"
)

// ErrorDetail describes why a cell is in StateFailed
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Output is the last known result of a cell. Payload is opaque to the coordinator.
type Output struct {
	Payload string       `json:"payload,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// CellSnapshot is a point-in-time copy of a cell, safe to retain
type CellSnapshot struct {
	ID      string         `json:"id"`
	Source  string         `json:"source"`
	State   ExecutionState `json:"state"`
	Output  Output         `json:"output"`
	Ordinal uint64         `json:"ordinal"`
}

// Cell is one executable unit of a worksheet. Its identity never changes;
// source is written by the editor and execution fields by the coordinator.
type Cell struct {
	id string

	mu      sync.RWMutex
	source  string
	state   ExecutionState
	output  Output
	ordinal uint64
}

// NewCell creates an idle cell
func NewCell(id, source string) *Cell {
	return &Cell{
		id:     id,
		source: source,
		state:  StateIdle,
	}
}

// ID returns the cell identifier
func (c *Cell) ID() string {
	return c.id
}

// Source returns the current editable text
func (c *Cell) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// SetSource replaces the editable text. Outstanding requests keep the
// snapshot they were created with.
func (c *Cell) SetSource(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = source
}

// State returns the execution state
func (c *Cell) State() ExecutionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Output returns the last output
func (c *Cell) Output() Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyOutput(c.output)
}

// Ordinal returns the current execution ordinal (0 if never evaluated)
func (c *Cell) Ordinal() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ordinal
}

// IsCurrent reports whether ordinal is the cell's current ordinal
func (c *Cell) IsCurrent(ordinal uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ordinal != 0 && ordinal == c.ordinal
}

// Snapshot returns a copy of the cell
func (c *Cell) Snapshot() CellSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CellSnapshot{
		ID:      c.id,
		Source:  c.source,
		State:   c.state,
		Output:  copyOutput(c.output),
		Ordinal: c.ordinal,
	}
}

// Queue assigns the next ordinal and moves the cell to StateQueued.
// Any outstanding ordinal is superseded.
func (c *Cell) Queue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ordinal++
	c.state = StateQueued
	return c.ordinal
}

// MarkExecuting moves a queued cell to StateExecuting. Returns false if
// ordinal is not current or the cell is no longer queued.
func (c *Cell) MarkExecuting(ordinal uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ordinal != c.ordinal || c.state != StateQueued {
		return false
	}
	c.state = StateExecuting
	return true
}

// Complete applies a successful result. Returns false if ordinal is stale
// or the current request was already resolved.
func (c *Cell) Complete(ordinal uint64, payload string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inFlight(ordinal) {
		return false
	}
	c.state = StateCompleted
	c.output = Output{Payload: payload}
	return true
}

// Fail applies a failure. Returns false if ordinal is stale or the current
// request was already resolved.
func (c *Cell) Fail(ordinal uint64, detail ErrorDetail) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inFlight(ordinal) {
		return false
	}
	c.state = StateFailed
	c.output = Output{Error: &detail}
	return true
}

// inFlight must be called with mu held
func (c *Cell) inFlight(ordinal uint64) bool {
	if ordinal == 0 || ordinal != c.ordinal {
		return false
	}
	return c.state == StateQueued || c.state == StateExecuting
}

func copyOutput(o Output) Output {
	if o.Error == nil {
		return o
	}
	detail := *o.Error
	return Output{Payload: o.Payload, Error: &detail}
}
