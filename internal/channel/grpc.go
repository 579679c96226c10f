package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/retry"
	"github.com/AltairaLabs/notebook-exec/internal/wire"
)

// ErrAlreadyStarted is returned by Start on a channel that was started or closed
var ErrAlreadyStarted = errors.New("channel already started")

// GRPC is a Channel backed by the kernel's bidirectional Execute stream.
//
// Requests are held in a local queue until written to the stream. When the
// stream breaks, requests that were written but not resolved are queued
// again ahead of unsent ones and replayed after reconnecting.
type GRPC struct {
	cfg      config.ChannelConfig
	policy   retry.Policy
	logger   *slog.Logger
	dialOpts []grpc.DialOption
	now      func() time.Time
	events   *emitter

	mu      sync.Mutex
	entries map[string]*entry
	queue   []string
	seq     uint64
	status  Status
	started bool
	closed  bool
	wake    chan struct{}

	conn      *grpc.ClientConn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type entry struct {
	req        Request
	seq        uint64
	sent       bool
	sentAt     time.Time
	accepted   bool
	acceptedAt time.Time
}

// GRPCOption configures a GRPC channel
type GRPCOption func(*GRPC)

// WithLogger sets the channel logger
func WithLogger(logger *slog.Logger) GRPCOption {
	return func(g *GRPC) {
		g.logger = logger
	}
}

// WithDialOptions appends gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(g *GRPC) {
		g.dialOpts = append(g.dialOpts, opts...)
	}
}

// NewGRPC creates a gRPC channel. Nothing is dialled until Start.
func NewGRPC(cfg config.ChannelConfig, opts ...GRPCOption) *GRPC {
	g := &GRPC{
		cfg:     cfg,
		policy:  retry.FromConfig(cfg.Reconnect),
		logger:  slog.Default(),
		now:     time.Now,
		events:  newEmitter(cfg.EventBuffer),
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Events implements Channel
func (g *GRPC) Events() <-chan Event {
	return g.events.out
}

// Status returns the last reported connectivity ("" before the first attempt)
func (g *GRPC) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Outstanding returns the number of submitted requests not yet resolved
func (g *GRPC) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Start implements Channel
func (g *GRPC) Start(ctx context.Context) error {
	if err := g.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	if err := g.policy.Validate(); err != nil {
		return fmt.Errorf("invalid reconnect policy: %w", err)
	}

	g.mu.Lock()
	if g.started || g.closed {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.started = true
	g.mu.Unlock()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, g.dialOpts...)

	conn, err := grpc.NewClient(g.cfg.KernelAddr, dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create gRPC client: %w", err)
	}
	g.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.events.start()
	g.wg.Add(2)
	go g.connectLoop(runCtx)
	go g.timeoutLoop(runCtx)

	g.logger.InfoContext(ctx, "Execution channel started", "kernel_addr", g.cfg.KernelAddr)
	return nil
}

// Close implements Channel. Pending requests are abandoned and Events is closed.
func (g *GRPC) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()

		if g.conn != nil {
			if cerr := g.conn.Close(); cerr != nil {
				err = fmt.Errorf("failed to close gRPC connection: %w", cerr)
			}
		}
		outstanding := g.Outstanding()
		g.events.stop()
		g.logger.Info("Execution channel closed", "outstanding", outstanding)
	})
	return err
}

// Submit implements Channel
func (g *GRPC) Submit(req Request) {
	if err := req.Validate(); err != nil {
		g.logger.Warn("Rejecting malformed request",
			"request_id", req.RequestID,
			"cell_id", req.CellID,
			"error", err)
		g.events.emit(Rejected(req, err.Error()))
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.events.emit(Rejected(req, config.MsgChannelClosed))
		return
	}
	if _, exists := g.entries[req.RequestID]; exists {
		g.mu.Unlock()
		return
	}
	g.seq++
	g.entries[req.RequestID] = &entry{req: req, seq: g.seq}
	g.queue = append(g.queue, req.RequestID)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *GRPC) setStatus(status Status) {
	g.mu.Lock()
	if g.status == status {
		g.mu.Unlock()
		return
	}
	g.status = status
	g.mu.Unlock()

	g.logger.Info("Channel connectivity changed", "status", status)
	g.events.emit(Connectivity(status))
}

// connectLoop keeps one Execute stream open, reconnecting with backoff
func (g *GRPC) connectLoop(ctx context.Context) {
	defer g.wg.Done()

	backoff := retry.NewBackoff(g.policy)
	for {
		opened, err := g.runStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if opened {
			backoff.Reset()
		}

		requeued := g.requeueUnresolved()
		delay := backoff.Next()
		status := StatusReconnecting
		if backoff.Exhausted() {
			status = StatusDisconnected
		}
		g.setStatus(status)

		g.logger.WarnContext(ctx, "Execute stream unavailable",
			"error", err,
			"retriable", retry.IsRetriableError(err),
			"failures", backoff.Failures(),
			"retry_in", delay,
			"requeued", requeued)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runStream opens the stream and pumps requests until it breaks. The
// returned bool reports whether the stream was opened at all.
func (g *GRPC) runStream(ctx context.Context) (bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := wire.OpenExecuteStream(streamCtx, g.conn)
	if err != nil {
		return false, fmt.Errorf("failed to open execute stream: %w", err)
	}
	g.setStatus(StatusConnected)

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- g.recvLoop(stream)
	}()

	for {
		if err := g.flush(stream); err != nil {
			return true, err
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-recvErr:
			return true, err
		case <-g.wake:
		}
	}
}

func (g *GRPC) flush(stream grpc.ClientStream) error {
	for {
		req, ok := g.nextUnsent()
		if !ok {
			return nil
		}
		msg, err := req.envelope().ToStruct()
		if err != nil {
			g.drop(req.RequestID)
			g.logger.Warn("Rejecting unencodable request",
				"request_id", req.RequestID,
				"cell_id", req.CellID,
				"error", err)
			g.events.emit(Rejected(req, err.Error()))
			continue
		}
		if err := stream.SendMsg(msg); err != nil {
			return fmt.Errorf("failed to send request %s: %w", req.RequestID, err)
		}
		g.logger.Debug("Request written to stream",
			"request_id", req.RequestID,
			"worksheet_id", req.WorksheetID,
			"cell_id", req.CellID,
			"ordinal", req.Ordinal)
	}
}

func (g *GRPC) nextUnsent() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.queue) > 0 {
		id := g.queue[0]
		g.queue = g.queue[1:]
		e, ok := g.entries[id]
		if !ok || e.sent {
			continue
		}
		e.sent = true
		e.sentAt = g.now()
		return e.req, true
	}
	return Request{}, false
}

func (g *GRPC) drop(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, requestID)
}

// requeueUnresolved moves written-but-unresolved requests back to the front
// of the queue in their original submission order
func (g *GRPC) requeueUnresolved() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var resend []*entry
	for _, e := range g.entries {
		if e.sent {
			e.sent = false
			e.accepted = false
			resend = append(resend, e)
		}
	}
	if len(resend) == 0 {
		return 0
	}
	sort.Slice(resend, func(i, j int) bool { return resend[i].seq < resend[j].seq })

	queue := make([]string, 0, len(resend)+len(g.queue))
	for _, e := range resend {
		queue = append(queue, e.req.RequestID)
	}
	g.queue = append(queue, g.queue...)
	return len(resend)
}

func (g *GRPC) recvLoop(stream grpc.ClientStream) error {
	for {
		env, err := wire.Recv(stream)
		if errors.Is(err, wire.ErrMalformed) {
			g.logger.Warn("Dropping undecodable envelope", "error", err)
			continue
		}
		if err != nil {
			return err
		}
		g.handleEnvelope(env)
	}
}

func (g *GRPC) handleEnvelope(env *wire.Envelope) {
	req := Request{
		RequestID:   env.RequestID,
		WorksheetID: env.WorksheetID,
		CellID:      env.CellID,
		Ordinal:     env.Ordinal,
	}

	g.mu.Lock()
	e, known := g.entries[env.RequestID]
	if known {
		req = e.req
	}

	switch env.Kind {
	case wire.KindAccepted:
		if !known || e.accepted {
			g.mu.Unlock()
			return
		}
		e.accepted = true
		e.acceptedAt = g.now()
		g.mu.Unlock()
		g.events.emit(Accepted(req))

	case wire.KindRejected:
		delete(g.entries, env.RequestID)
		g.mu.Unlock()
		g.events.emit(Rejected(req, env.Reason))

	case wire.KindResult:
		delete(g.entries, env.RequestID)
		g.mu.Unlock()
		g.events.emit(Result(req, env.Status == wire.StatusOK, env.Payload))

	default:
		g.mu.Unlock()
		g.logger.Warn("Ignoring unexpected envelope", "kind", env.Kind, "request_id", env.RequestID)
	}
}

// timeoutLoop fails written requests that never produced a result. An
// accepted request is timed from its acknowledgement, an unacknowledged one
// from the moment it was written.
func (g *GRPC) timeoutLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.TimeoutCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.expire()
		}
	}
}

func (e *entry) expired(now time.Time, timeout time.Duration) bool {
	switch {
	case e.accepted:
		return now.Sub(e.acceptedAt) >= timeout
	case e.sent:
		return now.Sub(e.sentAt) >= timeout
	default:
		return false
	}
}

func (g *GRPC) expire() {
	now := g.now()

	g.mu.Lock()
	var expired []*entry
	for id, e := range g.entries {
		if e.expired(now, g.cfg.RequestTimeout) {
			delete(g.entries, id)
			expired = append(expired, e)
		}
	}
	g.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })
	payload := fmt.Sprintf(config.MsgRequestTimedOut, g.cfg.RequestTimeout)
	for _, e := range expired {
		g.logger.Warn("Request timed out",
			"request_id", e.req.RequestID,
			"accepted", e.accepted,
			"worksheet_id", e.req.WorksheetID,
			"cell_id", e.req.CellID,
			"ordinal", e.req.Ordinal)
		g.events.emit(Result(e.req, false, payload))
	}
}
