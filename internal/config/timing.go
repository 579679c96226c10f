package config

import "time"

// Default timing configurations used throughout the coordinator, channel and kernel
const (
	// DefaultRequestTimeout is how long the channel waits for a result after acceptance
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultExecutionTimeout bounds a single execution inside the kernel
	DefaultExecutionTimeout = 90 * time.Second

	// DefaultTimeoutCheckInterval is how often the channel scans for expired requests
	DefaultTimeoutCheckInterval = 1 * time.Second

	// DefaultReconnectInitialDelay is the first backoff delay after a broken stream
	DefaultReconnectInitialDelay = 500 * time.Millisecond

	// DefaultReconnectMaxDelay caps the reconnection backoff
	DefaultReconnectMaxDelay = 30 * time.Second

	// DefaultReconnectMaxRetries is how many failed attempts are reported as
	// reconnecting before the channel reports disconnected
	DefaultReconnectMaxRetries = 5

	// DefaultStateTTL is the time-to-live of published session state snapshots
	DefaultStateTTL = 10 * time.Minute

	// DefaultPublishFlushTimeout bounds each Redis publish made after shutdown began
	DefaultPublishFlushTimeout = 2 * time.Second

	// DefaultJournalBuffer is the number of journal entries buffered before new ones are dropped
	DefaultJournalBuffer = 256

	// DefaultEventBuffer is the capacity of a channel's outbound event stream
	DefaultEventBuffer = 256
)
