package config

import (
	"errors"
	"time"
)

// ChannelConfig holds configuration for the execution channel
type ChannelConfig struct {
	// KernelAddr is the gRPC address of the execution kernel
	KernelAddr string `yaml:"kernel_addr"`
	// RequestTimeout fails accepted requests that never produce a result
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// TimeoutCheckInterval is how often expired requests are scanned for
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
	// EventBuffer is the capacity of the channel event stream
	EventBuffer int `yaml:"event_buffer"`
	// Reconnect controls backoff between connection attempts
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the reconnection backoff settings
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	Multiplier   float64       `yaml:"multiplier"`
}

// DefaultChannelConfig returns default configuration for the execution channel
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		KernelAddr:           "localhost:50051",
		RequestTimeout:       DefaultRequestTimeout,
		TimeoutCheckInterval: DefaultTimeoutCheckInterval,
		EventBuffer:          DefaultEventBuffer,
		Reconnect: ReconnectConfig{
			InitialDelay: DefaultReconnectInitialDelay,
			MaxDelay:     DefaultReconnectMaxDelay,
			MaxRetries:   DefaultReconnectMaxRetries,
			Multiplier:   2.0,
		},
	}
}

// Validate checks the channel configuration
func (c ChannelConfig) Validate() error {
	if c.KernelAddr == "" {
		return errors.New("kernel_addr is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.TimeoutCheckInterval <= 0 {
		return errors.New("timeout_check_interval must be positive")
	}
	if c.EventBuffer <= 0 {
		return errors.New("event_buffer must be positive")
	}
	return nil
}

// KernelConfig holds configuration for the reference kernel
type KernelConfig struct {
	// GRPCPort is the port the kernel listens on
	GRPCPort string `yaml:"grpc_port"`
	// Executor selects the executor implementation ("echo" or "python")
	Executor string `yaml:"executor"`
	// ExecutionTimeout bounds a single execution
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	// WorkDir is the working directory for executions
	WorkDir string `yaml:"work_dir"`
}

// DefaultKernelConfig returns default configuration for the kernel
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		GRPCPort:         "50051",
		Executor:         "echo",
		ExecutionTimeout: DefaultExecutionTimeout,
	}
}

// Validate checks the kernel configuration
func (c KernelConfig) Validate() error {
	if c.GRPCPort == "" {
		return errors.New("grpc_port is required")
	}
	switch c.Executor {
	case "echo", "python":
	default:
		return errors.New("executor must be one of echo, python")
	}
	if c.ExecutionTimeout <= 0 {
		return errors.New("execution_timeout must be positive")
	}
	return nil
}

// JournalConfig holds configuration for the execution journal
type JournalConfig struct {
	// Path is the SQLite database path; empty disables the journal
	Path string `yaml:"path"`
	// Buffer is the number of entries queued before new ones are dropped
	Buffer int `yaml:"buffer"`
}

// PublisherConfig holds configuration for the session state publisher
type PublisherConfig struct {
	// RedisURL enables publishing when set
	RedisURL string `yaml:"redis_url"`
	// TTL is the expiry of the published state key
	TTL time.Duration `yaml:"ttl"`
}

// Config is the top-level coordinator configuration
type Config struct {
	NotebookID string          `yaml:"notebook_id"`
	HTTPPort   string          `yaml:"http_port"`
	Channel    ChannelConfig   `yaml:"channel"`
	Kernel     KernelConfig    `yaml:"kernel"`
	Journal    JournalConfig   `yaml:"journal"`
	Publisher  PublisherConfig `yaml:"publisher"`
}

// Default returns the default top-level configuration
func Default() Config {
	return Config{
		NotebookID: "notebook",
		HTTPPort:   "8080",
		Channel:    DefaultChannelConfig(),
		Kernel:     DefaultKernelConfig(),
		Journal: JournalConfig{
			Buffer: DefaultJournalBuffer,
		},
		Publisher: PublisherConfig{
			TTL: DefaultStateTTL,
		},
	}
}
