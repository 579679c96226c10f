// Package channel provides the asynchronous transport between a notebook
// session and its execution backend.
package channel

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/notebook-exec/internal/wire"
)

// Status is the connectivity of a channel
type Status string

const (
	// StatusConnected means submits reach the backend
	StatusConnected Status = "connected"
	// StatusReconnecting means the transport broke and is being re-established
	StatusReconnecting Status = "reconnecting"
	// StatusDisconnected means the backend has been unreachable past the retry budget
	StatusDisconnected Status = "disconnected"
)

// Key identifies one evaluation request of one cell
type Key struct {
	WorksheetID string
	CellID      string
	Ordinal     uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s#%d", k.WorksheetID, k.CellID, k.Ordinal)
}

// Request is an evaluation submitted to the backend
type Request struct {
	RequestID   string
	WorksheetID string
	CellID      string
	Ordinal     uint64
	Source      string
}

// Key returns the request key
func (r Request) Key() Key {
	return Key{WorksheetID: r.WorksheetID, CellID: r.CellID, Ordinal: r.Ordinal}
}

// Validate reports requests that can never be submitted
func (r Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: request_id is required", wire.ErrMalformed)
	}
	return r.envelope().Validate()
}

func (r Request) envelope() *wire.Envelope {
	return &wire.Envelope{
		Kind:        wire.KindSubmit,
		RequestID:   r.RequestID,
		WorksheetID: r.WorksheetID,
		CellID:      r.CellID,
		Ordinal:     r.Ordinal,
		Source:      r.Source,
	}
}

// EventKind identifies the type of a channel event
type EventKind int

const (
	// EventAccepted reports the backend accepted a request
	EventAccepted EventKind = iota
	// EventRejected reports a request was refused and will never produce a result
	EventRejected
	// EventResult carries the outcome of a request
	EventResult
	// EventConnectivity reports a change of channel status
	EventConnectivity
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventRejected:
		return "rejected"
	case EventResult:
		return "result"
	case EventConnectivity:
		return "connectivity"
	default:
		return "unknown"
	}
}

// Event is delivered on Channel.Events
type Event struct {
	Kind      EventKind
	Key       Key
	RequestID string

	// Result fields
	OK      bool
	Payload string

	// Rejection reason
	Reason string

	// Connectivity status
	Status Status
}

// Accepted builds an acceptance event
func Accepted(req Request) Event {
	return Event{Kind: EventAccepted, Key: req.Key(), RequestID: req.RequestID}
}

// Rejected builds a rejection event
func Rejected(req Request, reason string) Event {
	return Event{Kind: EventRejected, Key: req.Key(), RequestID: req.RequestID, Reason: reason}
}

// Result builds a result event
func Result(req Request, ok bool, payload string) Event {
	return Event{Kind: EventResult, Key: req.Key(), RequestID: req.RequestID, OK: ok, Payload: payload}
}

// Connectivity builds a connectivity event
func Connectivity(status Status) Event {
	return Event{Kind: EventConnectivity, Status: status}
}

// Channel is an asynchronous transport to an execution backend.
//
// Submit never blocks; its outcome is delivered later as an Accepted or
// Rejected event, and accepted requests produce at least one Result event.
// No ordering is guaranteed across requests.
type Channel interface {
	Submit(req Request)
	Events() <-chan Event
	Start(ctx context.Context) error
	Close() error
}
