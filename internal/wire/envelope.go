// Package wire defines the envelopes exchanged between the execution channel
// and the kernel, and the gRPC service that carries them.
//
// Envelopes travel as google.protobuf.Struct messages so both ends share a
// schema without generated stubs.
package wire

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies the envelope type
type Kind string

const (
	// KindSubmit carries an evaluation request from the channel to the kernel
	KindSubmit Kind = "submit"
	// KindAccepted acknowledges a submit
	KindAccepted Kind = "accepted"
	// KindRejected refuses a submit without executing it
	KindRejected Kind = "rejected"
	// KindResult carries the outcome of an accepted submit
	KindResult Kind = "result"
)

// Status is the outcome carried by a result envelope
type Status string

const (
	// StatusOK means the payload is the execution output
	StatusOK Status = "ok"
	// StatusError means the payload is the error detail
	StatusError Status = "error"
)

const (
	fieldKind        = "kind"
	fieldRequestID   = "request_id"
	fieldWorksheetID = "worksheet_id"
	fieldCellID      = "cell_id"
	fieldOrdinal     = "ordinal"
	fieldSource      = "source"
	fieldStatus      = "status"
	fieldPayload     = "payload"
	fieldReason      = "reason"
)

// ErrMalformed is returned for envelopes missing required fields
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the single message shape used in both directions
type Envelope struct {
	Kind        Kind
	RequestID   string
	WorksheetID string
	CellID      string
	Ordinal     uint64
	Source      string
	Status      Status
	Payload     string
	Reason      string
}

// Validate checks that the identifying fields are present
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindSubmit, KindAccepted, KindRejected, KindResult:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	if e.WorksheetID == "" {
		return fmt.Errorf("%w: worksheet_id is required", ErrMalformed)
	}
	if e.CellID == "" {
		return fmt.Errorf("%w: cell_id is required", ErrMalformed)
	}
	if e.Ordinal == 0 {
		return fmt.Errorf("%w: ordinal must be positive", ErrMalformed)
	}
	if e.Kind == KindResult && e.Status != StatusOK && e.Status != StatusError {
		return fmt.Errorf("%w: invalid status %q", ErrMalformed, e.Status)
	}
	for _, f := range []struct{ name, value string }{
		{fieldRequestID, e.RequestID},
		{fieldWorksheetID, e.WorksheetID},
		{fieldCellID, e.CellID},
		{fieldSource, e.Source},
		{fieldPayload, e.Payload},
		{fieldReason, e.Reason},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformed, f.name)
		}
	}
	return nil
}

// ToStruct encodes the envelope
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		fieldKind:        string(e.Kind),
		fieldWorksheetID: e.WorksheetID,
		fieldCellID:      e.CellID,
		fieldOrdinal:     e.Ordinal,
	}
	if e.RequestID != "" {
		fields[fieldRequestID] = e.RequestID
	}
	if e.Source != "" {
		fields[fieldSource] = e.Source
	}
	if e.Status != "" {
		fields[fieldStatus] = string(e.Status)
	}
	if e.Payload != "" {
		fields[fieldPayload] = e.Payload
	}
	if e.Reason != "" {
		fields[fieldReason] = e.Reason
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return msg, nil
}

// FromStruct decodes an envelope
func FromStruct(msg *structpb.Struct) (*Envelope, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	fields := msg.GetFields()

	ordinal := fields[fieldOrdinal].GetNumberValue()
	if ordinal < 0 {
		return nil, fmt.Errorf("%w: negative ordinal", ErrMalformed)
	}

	return &Envelope{
		Kind:        Kind(fields[fieldKind].GetStringValue()),
		RequestID:   fields[fieldRequestID].GetStringValue(),
		WorksheetID: fields[fieldWorksheetID].GetStringValue(),
		CellID:      fields[fieldCellID].GetStringValue(),
		Ordinal:     uint64(ordinal),
		Source:      fields[fieldSource].GetStringValue(),
		Status:      Status(fields[fieldStatus].GetStringValue()),
		Payload:     fields[fieldPayload].GetStringValue(),
		Reason:      fields[fieldReason].GetStringValue(),
	}, nil
}

// Reply builds a response envelope addressed to the same request
func (e *Envelope) Reply(kind Kind) *Envelope {
	return &Envelope{
		Kind:        kind,
		RequestID:   e.RequestID,
		WorksheetID: e.WorksheetID,
		CellID:      e.CellID,
		Ordinal:     e.Ordinal,
	}
}
