package channel

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/kernel"
	"github.com/AltairaLabs/notebook-exec/internal/wire"
)

const waitTimeout = 10 * time.Second

// blockingExecutor never finishes until its context ends
type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// mutedKernel reads submits and never answers them
type mutedKernel struct{}

func (mutedKernel) Execute(stream grpc.ServerStream) error {
	for {
		if _, err := wire.Recv(stream); err != nil {
			return err
		}
	}
}

// kernelHarness serves a kernel on a bufconn listener that can be swapped to
// simulate a restart
type kernelHarness struct {
	listener atomic.Pointer[bufconn.Listener]
	server   atomic.Pointer[grpc.Server]
}

func newKernelHarness(t *testing.T, executor kernel.Executor) *kernelHarness {
	t.Helper()
	h := &kernelHarness{}
	h.start(executor)
	t.Cleanup(h.stop)
	return h
}

func (h *kernelHarness) start(executor kernel.Executor) {
	h.serve(func(srv *grpc.Server) {
		kernel.NewServer(kernel.ServerConfig{Executor: executor}).Register(srv)
	})
}

// serve swaps in a fresh listener and server registered by register
func (h *kernelHarness) serve(register func(*grpc.Server)) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	h.listener.Store(lis)
	h.server.Store(srv)
}

func (h *kernelHarness) stop() {
	if srv := h.server.Load(); srv != nil {
		srv.Stop()
	}
}

func (h *kernelHarness) dialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return h.listener.Load().DialContext(ctx)
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  10 * time.Millisecond,
				Multiplier: 1.2,
				MaxDelay:   50 * time.Millisecond,
			},
			MinConnectTimeout: time.Second,
		}),
	}
}

func testChannelConfig() config.ChannelConfig {
	cfg := config.DefaultChannelConfig()
	cfg.KernelAddr = "passthrough:///bufnet"
	cfg.TimeoutCheckInterval = 10 * time.Millisecond
	cfg.Reconnect.InitialDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return cfg
}

func startGRPC(t *testing.T, cfg config.ChannelConfig, h *kernelHarness) *GRPC {
	t.Helper()
	ch := NewGRPC(cfg, WithDialOptions(h.dialOptions()...))
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// waitFor reads events until match returns true, failing on timeout
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isStatus(status Status) func(Event) bool {
	return func(ev Event) bool {
		return ev.Kind == EventConnectivity && ev.Status == status
	}
}

func isKind(kind EventKind, requestID string) func(Event) bool {
	return func(ev Event) bool {
		return ev.Kind == kind && ev.RequestID == requestID
	}
}

func request(id, cell string, ordinal uint64, source string) Request {
	return Request{
		RequestID:   id,
		WorksheetID: "ws1",
		CellID:      cell,
		Ordinal:     ordinal,
		Source:      source,
	}
}
