// Package retry provides backoff policies for reconnecting the execution channel.
package retry

import (
	"errors"
	"math"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AltairaLabs/notebook-exec/internal/config"
)

// Policy defines reconnection backoff behavior
type Policy struct {
	MaxRetries        int           // Failed attempts before the channel reports disconnected
	InitialDelay      time.Duration // Initial delay before first retry
	MaxDelay          time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g., 2.0)
}

// DefaultPolicy returns the default reconnection policy
func DefaultPolicy() Policy {
	return FromConfig(config.DefaultChannelConfig().Reconnect)
}

// FromConfig builds a policy from reconnect configuration
func FromConfig(cfg config.ReconnectConfig) Policy {
	return Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.Multiplier,
	}
}

// CalculateDelay calculates the next retry delay based on the current attempt number
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}

	// initialDelay * (multiplier ^ retryCount), capped at MaxDelay
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// ShouldRetry reports whether retryCount is still within the retry budget
func (p *Policy) ShouldRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}

// IsRetriableError determines if a transport error should trigger a reconnect
func IsRetriableError(err error) bool {
	if err == nil {
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.InvalidArgument, codes.Unimplemented, codes.PermissionDenied, codes.Unauthenticated:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	retriableErrors := []string{
		"connection refused",
		"timeout",
		"network is unreachable",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"context deadline exceeded",
		"eof",
	}

	for _, retriable := range retriableErrors {
		if strings.Contains(errStr, retriable) {
			return true
		}
	}

	return false
}

// Backoff tracks consecutive failures against a policy
type Backoff struct {
	policy   Policy
	failures int
}

// NewBackoff creates a backoff tracker for the given policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Next records a failure and returns how long to wait before the next attempt.
// Once the retry budget is spent the delay stays at MaxDelay.
func (b *Backoff) Next() time.Duration {
	delay := b.policy.CalculateDelay(b.failures)
	if !b.policy.ShouldRetry(b.failures) {
		delay = b.policy.MaxDelay
	}
	b.failures++
	return delay
}

// Exhausted reports whether the retry budget has been spent
func (b *Backoff) Exhausted() bool {
	return !b.policy.ShouldRetry(b.failures)
}

// Failures returns the number of consecutive failures recorded
func (b *Backoff) Failures() int {
	return b.failures
}

// Reset clears the failure count after a successful attempt
func (b *Backoff) Reset() {
	b.failures = 0
}
