// Package journal keeps an audit log of evaluation request lifecycles in
// SQLite. It records what happened to each request, not notebook content.
package journal

import "time"

// Event names a request lifecycle transition
type Event string

const (
	EventSubmitted            Event = "submitted"
	EventQueuedOffline        Event = "queued_offline"
	EventAccepted             Event = "accepted"
	EventApplied              Event = "applied"
	EventFailed               Event = "failed"
	EventRejected             Event = "rejected"
	EventStale                Event = "stale"
	EventCancelled            Event = "cancelled"
	EventRejectedPrecondition Event = "rejected_precondition"
)

// Entry is one journal row
type Entry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id,omitempty"`
	WorksheetID string    `json:"worksheet_id"`
	CellID      string    `json:"cell_id"`
	Ordinal     uint64    `json:"ordinal"`
	Event       Event     `json:"event"`
	Detail      string    `json:"detail,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}
