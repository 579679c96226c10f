package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/wire"
)

// Rejection reasons sent back for submits the kernel refuses
const (
	ReasonNotSubmit       = "unexpected envelope kind"
	ReasonMissingRequest  = "request_id is required"
	ReasonEmptySource     = "source is empty"
	ReasonMalformedPrefix = "malformed request: "
)

// ServerConfig holds the kernel server settings
type ServerConfig struct {
	Executor         Executor
	ExecutionTimeout time.Duration
	// AllowEmptySource accepts submits with no source text
	AllowEmptySource bool
	Logger           *slog.Logger
}

// Server implements the Execute stream: every submit is answered with
// accepted or rejected, and every accepted submit later with a result.
type Server struct {
	executor   Executor
	timeout    time.Duration
	allowEmpty bool
	logger     *slog.Logger

	mu        sync.Mutex
	executing int
}

// NewServer creates a kernel server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = EchoExecutor{}
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = config.DefaultExecutionTimeout
	}
	return &Server{
		executor:   cfg.Executor,
		timeout:    cfg.ExecutionTimeout,
		allowEmpty: cfg.AllowEmptySource,
		logger:     cfg.Logger,
	}
}

// Register adds the execution service to a gRPC server
func (s *Server) Register(g *grpc.Server) {
	wire.RegisterExecutionServer(g, s)
}

// Executing returns the number of executions currently running
func (s *Server) Executing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// Execute implements wire.ExecutionServer
func (s *Server) Execute(stream grpc.ServerStream) error {
	ctx := stream.Context()

	// gRPC streams do not allow concurrent SendMsg calls
	var sendMu sync.Mutex
	send := func(env *wire.Envelope) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return wire.Send(stream, env)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.InfoContext(ctx, "Execute stream opened")

	for {
		env, err := wire.Recv(stream)
		if errors.Is(err, io.EOF) {
			s.logger.InfoContext(ctx, "Execute stream closed by client")
			return nil
		}
		if errors.Is(err, wire.ErrMalformed) {
			s.logger.WarnContext(ctx, "Dropping undecodable envelope", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		if reason := s.validate(env); reason != "" {
			s.logger.WarnContext(ctx, "Rejecting submit",
				"request_id", env.RequestID,
				"cell_id", env.CellID,
				"reason", reason)
			rejected := env.Reply(wire.KindRejected)
			rejected.Reason = sanitize(reason)
			if err := send(rejected); err != nil {
				return err
			}
			continue
		}

		if err := send(env.Reply(wire.KindAccepted)); err != nil {
			return err
		}

		wg.Add(1)
		go func(req *wire.Envelope) {
			defer wg.Done()
			result := s.run(ctx, req)
			if err := send(result); err != nil {
				s.logger.WarnContext(ctx, "Failed to send result",
					"request_id", req.RequestID,
					"error", err)
			}
		}(env)
	}
}

func (s *Server) validate(env *wire.Envelope) string {
	if env.Kind != wire.KindSubmit {
		return ReasonNotSubmit
	}
	if err := env.Validate(); err != nil {
		return ReasonMalformedPrefix + err.Error()
	}
	if env.RequestID == "" {
		return ReasonMissingRequest
	}
	if env.Source == "" && !s.allowEmpty {
		return ReasonEmptySource
	}
	return ""
}

func (s *Server) run(ctx context.Context, req *wire.Envelope) *wire.Envelope {
	s.mu.Lock()
	s.executing++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.executing--
		s.mu.Unlock()
	}()

	start := time.Now()
	ok, payload := Run(ctx, s.executor, req.Source, s.timeout)
	duration := time.Since(start)

	result := req.Reply(wire.KindResult)
	result.Status = wire.StatusError
	if ok {
		result.Status = wire.StatusOK
	}
	result.Payload = sanitize(payload)

	s.logger.InfoContext(ctx, "Execution finished",
		"request_id", req.RequestID,
		"worksheet_id", req.WorksheetID,
		"cell_id", req.CellID,
		"ordinal", req.Ordinal,
		"status", result.Status,
		"duration", duration)

	return result
}

// sanitize replaces invalid UTF-8 so executor output always encodes
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
