package coordinator

import "errors"

var (
	// ErrClosed is returned by calls made after the session was torn down
	ErrClosed = errors.New("coordinator closed")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("coordinator already running")
	// ErrMissingNotebook is returned by New without a notebook
	ErrMissingNotebook = errors.New("notebook is required")
	// ErrMissingChannel is returned by New without a channel
	ErrMissingChannel = errors.New("channel is required")
)
