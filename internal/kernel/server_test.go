package kernel

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AltairaLabs/notebook-exec/internal/wire"
)

type failingExecutor struct{ err error }

func (f failingExecutor) Execute(context.Context, string) (string, error) {
	return "", f.err
}

// fixedExecutor returns the same output for every source
type fixedExecutor struct{ out string }

func (f fixedExecutor) Execute(context.Context, string) (string, error) {
	return f.out, nil
}

func startKernel(t *testing.T, cfg ServerConfig) grpc.ClientStream {
	t.Helper()
	_, stream := serveKernel(t, cfg)
	return stream
}

func serveKernel(t *testing.T, cfg ServerConfig) (*Server, grpc.ClientStream) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	kernelServer := NewServer(cfg)
	kernelServer.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	stream, err := wire.OpenExecuteStream(ctx, conn)
	require.NoError(t, err)
	return kernelServer, stream
}

func submit(id, source string) *wire.Envelope {
	return &wire.Envelope{
		Kind:        wire.KindSubmit,
		RequestID:   id,
		WorksheetID: "ws1",
		CellID:      "c1",
		Ordinal:     1,
		Source:      source,
	}
}

func TestServer_AcceptsThenReturnsResult(t *testing.T) {
	stream := startKernel(t, ServerConfig{Executor: EchoExecutor{}})

	require.NoError(t, wire.Send(stream, submit("r1", "42")))

	accepted, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAccepted, accepted.Kind)
	assert.Equal(t, "r1", accepted.RequestID)

	result, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.KindResult, result.Kind)
	assert.Equal(t, wire.StatusOK, result.Status)
	assert.Equal(t, "42", result.Payload)
	assert.Equal(t, uint64(1), result.Ordinal)
}

func TestServer_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		env    *wire.Envelope
		reason string
	}{
		{"empty source", submit("r1", ""), ReasonEmptySource},
		{"missing request id", submit("", "x"), ReasonMissingRequest},
		{"wrong kind", &wire.Envelope{Kind: wire.KindResult, RequestID: "r", WorksheetID: "w", CellID: "c", Ordinal: 1, Status: wire.StatusOK}, ReasonNotSubmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := startKernel(t, ServerConfig{})

			require.NoError(t, wire.Send(stream, tt.env))

			reply, err := wire.Recv(stream)
			require.NoError(t, err)
			assert.Equal(t, wire.KindRejected, reply.Kind)
			assert.Equal(t, tt.reason, reply.Reason)
		})
	}
}

func TestServer_ZeroOrdinalRejected(t *testing.T) {
	stream := startKernel(t, ServerConfig{})

	env := submit("r1", "x")
	env.Ordinal = 0
	require.NoError(t, wire.Send(stream, env))

	reply, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.KindRejected, reply.Kind)
	assert.Contains(t, reply.Reason, ReasonMalformedPrefix)
}

func TestServer_ExecutionErrorBecomesErrorResult(t *testing.T) {
	stream := startKernel(t, ServerConfig{
		Executor: failingExecutor{err: &ExecutionError{Output: "NameError: x", ExitCode: 1}},
	})

	require.NoError(t, wire.Send(stream, submit("r1", "x")))

	_, err := wire.Recv(stream)
	require.NoError(t, err)
	result, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, result.Status)
	assert.Equal(t, "NameError: x", result.Payload)
}

func TestServer_PlainErrorBecomesErrorResult(t *testing.T) {
	stream := startKernel(t, ServerConfig{Executor: failingExecutor{err: errors.New("boom")}})

	require.NoError(t, wire.Send(stream, submit("r1", "x")))

	_, err := wire.Recv(stream)
	require.NoError(t, err)
	result, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, result.Status)
	assert.Equal(t, "boom", result.Payload)
}

func TestServer_InvalidUTF8OutputIsReplaced(t *testing.T) {
	stream := startKernel(t, ServerConfig{Executor: fixedExecutor{out: "bytes \xff\xfe end"}})

	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, wire.Send(stream, submit(id, "x")))

		_, err := wire.Recv(stream)
		require.NoError(t, err)
		result, err := wire.Recv(stream)
		require.NoError(t, err, "the stream survives output that is not UTF-8")
		assert.Equal(t, id, result.RequestID)
		assert.Equal(t, wire.StatusOK, result.Status)
		assert.Equal(t, "bytes \uFFFD end", result.Payload)
	}
}

func TestServer_InvalidUTF8ErrorIsReplaced(t *testing.T) {
	stream := startKernel(t, ServerConfig{
		Executor: failingExecutor{err: &ExecutionError{Output: "Traceback \xc3", ExitCode: 1}},
	})

	require.NoError(t, wire.Send(stream, submit("r1", "x")))

	_, err := wire.Recv(stream)
	require.NoError(t, err)
	result, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, result.Status)
	assert.Equal(t, "Traceback \uFFFD", result.Payload)
}

func TestServer_ExecutionTimeout(t *testing.T) {
	stream := startKernel(t, ServerConfig{
		Executor:         EchoExecutor{Delay: time.Second},
		ExecutionTimeout: 20 * time.Millisecond,
	})

	require.NoError(t, wire.Send(stream, submit("r1", "x")))

	_, err := wire.Recv(stream)
	require.NoError(t, err)
	result, err := wire.Recv(stream)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, result.Status)
	assert.Contains(t, result.Payload, "timed out")
}

func TestServer_ExecutingCountsRunningRequests(t *testing.T) {
	server, stream := serveKernel(t, ServerConfig{
		Executor:         EchoExecutor{Delay: 200 * time.Millisecond},
		ExecutionTimeout: time.Second,
	})
	assert.Equal(t, 0, server.Executing())

	require.NoError(t, wire.Send(stream, submit("r1", "x")))
	accepted, err := wire.Recv(stream)
	require.NoError(t, err)
	require.Equal(t, wire.KindAccepted, accepted.Kind)
	assert.Eventually(t, func() bool { return server.Executing() == 1 }, time.Second, 5*time.Millisecond)

	_, err = wire.Recv(stream)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return server.Executing() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_ConcurrentRequestsAnsweredIndependently(t *testing.T) {
	stream := startKernel(t, ServerConfig{Executor: EchoExecutor{}})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, wire.Send(stream, submit(id, id)))
	}

	results := map[string]string{}
	accepted := 0
	for len(results) < 3 {
		env, err := wire.Recv(stream)
		require.NoError(t, err)
		switch env.Kind {
		case wire.KindAccepted:
			accepted++
		case wire.KindResult:
			results[env.RequestID] = env.Payload
		}
	}
	assert.Equal(t, 3, accepted)
	assert.Equal(t, map[string]string{"a": "a", "b": "b", "c": "c"}, results)
}
