// Package kernel is a small reference execution backend: a gRPC server for
// the Execute stream plus pluggable executors that run cell source.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/notebook-exec/internal/config"
)

// Executor runs one cell source and returns its output
type Executor interface {
	Execute(ctx context.Context, source string) (string, error)
}

// ExecutionError is returned when the executed code itself failed.
// Output carries whatever the code printed before failing.
type ExecutionError struct {
	Output   string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed with exit code %d", e.ExitCode)
}

// EchoExecutor returns the source unchanged, optionally after a delay
type EchoExecutor struct {
	Delay time.Duration
}

// Execute implements Executor
func (e EchoExecutor) Execute(ctx context.Context, source string) (string, error) {
	if e.Delay <= 0 {
		return source, ctx.Err()
	}
	timer := time.NewTimer(e.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return source, nil
	}
}

// Registry maps executor names to constructors
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(workDir string) Executor
}

// NewRegistry creates a registry with the echo and python executors registered
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]func(workDir string) Executor),
	}
	r.Register("echo", func(string) Executor { return EchoExecutor{} })
	r.Register("python", func(workDir string) Executor { return NewPythonExecutor(workDir) })
	return r
}

// Register adds an executor constructor under name
func (r *Registry) Register(name string, factory func(workDir string) Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds the named executor
func (r *Registry) Create(name, workDir string) (Executor, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported executor: %s", name)
	}
	return factory(workDir), nil
}

// Names returns the registered executor names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes source under timeout and reduces the outcome to a result:
// ok with the output, or not ok with a readable error payload.
func Run(ctx context.Context, executor Executor, source string, timeout time.Duration) (bool, string) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := executor.Execute(execCtx, source)
	switch {
	case err == nil:
		return true, output
	case errors.Is(err, context.DeadlineExceeded):
		return false, fmt.Sprintf(config.MsgRequestTimedOut, timeout)
	default:
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Output != "" {
			return false, execErr.Output
		}
		return false, err.Error()
	}
}
