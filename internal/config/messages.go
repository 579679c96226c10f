package config

// Error and status messages used throughout the coordinator
const (
	// ErrUnknownWorksheet is the format string for evaluate calls on unknown worksheets
	ErrUnknownWorksheet = "unknown worksheet: %s"
	// ErrUnknownCell is the format string for evaluate calls on cells outside their worksheet
	ErrUnknownCell = "cell %s does not belong to worksheet %s"
	// MsgWorksheetClosed is the error detail attached to cells cancelled by a worksheet close
	MsgWorksheetClosed = "worksheet closed before the request completed"
	// MsgCellDetached is journaled for responses to cells removed from their worksheet
	MsgCellDetached = "cell removed from its worksheet"
	// MsgRequestTimedOut is the format string for results synthesized by the channel timeout
	MsgRequestTimedOut = "execution timed out after %s"
	// MsgChannelClosed is the rejection reason for submits after the channel is closed
	MsgChannelClosed = "channel closed"
	// MsgSessionClosed is the journal detail for requests abandoned at session teardown
	MsgSessionClosed = "session closed with the request outstanding"
)
