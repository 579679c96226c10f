package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries=5, got %d", policy.MaxRetries)
	}
	if policy.InitialDelay != 500*time.Millisecond {
		t.Errorf("Expected InitialDelay=500ms, got %v", policy.InitialDelay)
	}
	if policy.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", policy.MaxDelay)
	}
	if policy.BackoffMultiplier != 2.0 {
		t.Errorf("Expected BackoffMultiplier=2.0, got %f", policy.BackoffMultiplier)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("Expected default policy to be valid, got %v", err)
	}
}

func TestPolicyCalculateDelay(t *testing.T) {
	policy := Policy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // Capped at MaxDelay
	}

	for _, test := range tests {
		actual := policy.CalculateDelay(test.retryCount)
		if actual != test.expected {
			t.Errorf("CalculateDelay(%d) = %v, expected %v", test.retryCount, actual, test.expected)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2}, false},
		{"negative retries", Policy{MaxRetries: -1, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2}, true},
		{"zero initial delay", Policy{MaxRetries: 1, MaxDelay: time.Minute, BackoffMultiplier: 2}, true},
		{"zero max delay", Policy{MaxRetries: 1, InitialDelay: time.Second, BackoffMultiplier: 2}, true},
		{"zero multiplier", Policy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Minute}, true},
		{"initial above max", Policy{MaxRetries: 1, InitialDelay: time.Hour, MaxDelay: time.Minute, BackoffMultiplier: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable status", status.Error(codes.Unavailable, "kernel down"), true},
		{"deadline status", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"invalid argument status", status.Error(codes.InvalidArgument, "bad envelope"), false},
		{"wrapped connection refused", fmt.Errorf("dial: %w", errors.New("connection refused")), true},
		{"eof", errors.New("EOF"), true},
		{"plain error", errors.New("malformed request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriableError(tt.err); got != tt.want {
				t.Errorf("IsRetriableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	policy := Policy{
		MaxRetries:        2,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}
	b := NewBackoff(policy)

	if b.Exhausted() {
		t.Fatal("Expected fresh backoff not to be exhausted")
	}
	if d := b.Next(); d != 100*time.Millisecond {
		t.Errorf("Expected first delay 100ms, got %v", d)
	}
	if d := b.Next(); d != 200*time.Millisecond {
		t.Errorf("Expected second delay 200ms, got %v", d)
	}
	if !b.Exhausted() {
		t.Error("Expected backoff to be exhausted after MaxRetries failures")
	}
	if d := b.Next(); d != time.Second {
		t.Errorf("Expected delay to hold at MaxDelay once exhausted, got %v", d)
	}
	if b.Failures() != 3 {
		t.Errorf("Expected 3 failures, got %d", b.Failures())
	}

	b.Reset()
	if b.Failures() != 0 || b.Exhausted() {
		t.Error("Expected Reset to clear failures")
	}
}
