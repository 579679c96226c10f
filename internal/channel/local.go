package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/kernel"
)

// Local is an in-process Channel that runs requests on a kernel.Executor.
// Connectivity can be forced with SetConnectivity; requests submitted while
// not connected are held and dispatched on the next StatusConnected.
type Local struct {
	executor kernel.Executor
	timeout  time.Duration
	logger   *slog.Logger
	events   *emitter

	mu      sync.Mutex
	status  Status
	held    []Request
	started bool
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLocal creates a local channel. A non-positive timeout uses the default
// execution timeout.
func NewLocal(executor kernel.Executor, timeout time.Duration, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultExecutionTimeout
	}
	return &Local{
		executor: executor,
		timeout:  timeout,
		logger:   logger,
		events:   newEmitter(config.DefaultEventBuffer),
	}
}

// Events implements Channel
func (l *Local) Events() <-chan Event {
	return l.events.out
}

// Start implements Channel and reports StatusConnected
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started || l.closed {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.events.start()
	l.SetConnectivity(StatusConnected)
	return nil
}

// Close implements Channel
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.held = nil
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		l.wg.Wait()
		l.events.stop()
	})
	return nil
}

// Status returns the current connectivity
func (l *Local) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// SetConnectivity changes the reported status and emits a connectivity event
func (l *Local) SetConnectivity(status Status) {
	l.mu.Lock()
	if l.closed || l.status == status {
		l.mu.Unlock()
		return
	}
	l.status = status
	var release []Request
	if status == StatusConnected && l.started {
		release = l.held
		l.held = nil
	}
	l.mu.Unlock()

	l.logger.Info("Channel connectivity changed", "status", status)
	l.events.emit(Connectivity(status))
	for _, req := range release {
		l.dispatch(req)
	}
}

// Submit implements Channel
func (l *Local) Submit(req Request) {
	if err := req.Validate(); err != nil {
		l.events.emit(Rejected(req, err.Error()))
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.events.emit(Rejected(req, config.MsgChannelClosed))
		return
	}
	if !l.started || l.status != StatusConnected {
		l.held = append(l.held, req)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.dispatch(req)
}

func (l *Local) dispatch(req Request) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.events.emit(Accepted(req))
		ok, payload := kernel.Run(ctx, l.executor, req.Source, l.timeout)
		if ctx.Err() != nil {
			return
		}
		l.events.emit(Result(req, ok, payload))
	}()
}
