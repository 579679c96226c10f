package coordinator

import (
	"sort"
	"time"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// PendingRequest is an evaluation that has not been resolved yet
type PendingRequest struct {
	Key         channel.Key `json:"-"`
	RequestID   string      `json:"request_id"`
	WorksheetID string      `json:"worksheet_id"`
	CellID      string      `json:"cell_id"`
	Ordinal     uint64      `json:"ordinal"`
	SubmittedAt time.Time   `json:"submitted_at"`
	// Source is the cell text captured when evaluate was called
	Source string `json:"source"`
	// Sent is false while the request waits in the outbox
	Sent bool `json:"sent"`

	seq  uint64
	cell *notebook.Cell
}

func (p *PendingRequest) request() channel.Request {
	return channel.Request{
		RequestID:   p.RequestID,
		WorksheetID: p.Key.WorksheetID,
		CellID:      p.Key.CellID,
		Ordinal:     p.Key.Ordinal,
		Source:      p.Source,
	}
}

// pendingTable holds outstanding requests by request id plus the outbox of
// those created while the channel was not connected. Loop-owned.
type pendingTable struct {
	byID   map[string]*PendingRequest
	outbox []string
	seq    uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		byID: make(map[string]*PendingRequest),
	}
}

func (t *pendingTable) add(p *PendingRequest) {
	t.seq++
	p.seq = t.seq
	t.byID[p.RequestID] = p
}

func (t *pendingTable) get(requestID string) (*PendingRequest, bool) {
	p, ok := t.byID[requestID]
	return p, ok
}

func (t *pendingTable) remove(requestID string) (*PendingRequest, bool) {
	p, ok := t.byID[requestID]
	if ok {
		delete(t.byID, requestID)
	}
	return p, ok
}

// current returns the pending request of cell for key, if any
func (t *pendingTable) current(key channel.Key, cell *notebook.Cell) (*PendingRequest, bool) {
	for _, p := range t.byID {
		if p.Key == key && p.cell == cell {
			return p, true
		}
	}
	return nil, false
}

func (t *pendingTable) len() int {
	return len(t.byID)
}

func (t *pendingTable) hold(requestID string) {
	t.outbox = append(t.outbox, requestID)
}

// drainOutbox returns held requests that are still pending, in the order
// they were held, and empties the outbox
func (t *pendingTable) drainOutbox() []*PendingRequest {
	held := make([]*PendingRequest, 0, len(t.outbox))
	for _, id := range t.outbox {
		if p, ok := t.byID[id]; ok && !p.Sent {
			held = append(held, p)
		}
	}
	t.outbox = nil
	return held
}

// matching returns pending requests accepted by keep, oldest first
func (t *pendingTable) matching(keep func(*PendingRequest) bool) []*PendingRequest {
	var out []*PendingRequest
	for _, p := range t.byID {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *pendingTable) snapshot() []PendingRequest {
	all := t.matching(func(*PendingRequest) bool { return true })
	out := make([]PendingRequest, len(all))
	for i, p := range all {
		out[i] = *p
		out[i].cell = nil
	}
	return out
}
