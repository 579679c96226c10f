package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
	"github.com/AltairaLabs/notebook-exec/internal/mcpserver"
	"github.com/AltairaLabs/notebook-exec/internal/observe"
)

const (
	subscriberBuffer      = 64
	publisherDrainTimeout = 5 * time.Second
)

// ServeOptions holds flags for the serve command
type ServeOptions struct {
	*RootOptions
	HTTP  bool
	Local bool
}

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a notebook session behind the MCP tool surface",
		Long: `Run a notebook session and expose it as MCP tools.

The session dials the kernel at channel.kernel_addr (KERNEL_ADDR) unless
--local is given, in which case cells run in-process with kernel.executor.
Tools are served on stdio, or over HTTP/SSE on HTTP_PORT with --http.

Example:
  coordinator serve --http
  coordinator serve --local --config notebook.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.HTTP, "http", false, "serve MCP over HTTP/SSE instead of stdio")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "run cells in-process instead of dialing the kernel")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}

	logger.Info("Starting notebook coordinator",
		"version", Version,
		"notebook_id", cfg.NotebookID,
		"http_mode", opts.HTTP,
		"http_port", cfg.HTTPPort,
		"local", opts.Local,
	)

	sess, err := newSession(cfg, sessionOptions{Local: opts.Local}, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	var publisherDone <-chan struct{}
	if cfg.Publisher.RedisURL != "" {
		publisher, done, err := startPublisher(ctx, cfg.Publisher, sess.coord, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start state publisher", err)
		}
		defer publisher.Close()
		publisherDone = done
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- sess.coord.Run(ctx)
	}()

	mcpServer := mcpserver.NewMCPServer(mcpserver.Config{
		Name:    "notebook-coordinator",
		Version: Version,
	}, sess.coord, mcpserver.NewAuditLogger(logger))

	serveDone := make(chan error, 1)
	go func() {
		if opts.HTTP {
			serveDone <- mcpServer.ServeHTTP(ctx, ":"+cfg.HTTPPort, logger)
			return
		}
		logger.Info("Starting MCP server on stdio")
		serveDone <- mcpServer.Serve()
	}()

	var runErr error
	select {
	case err := <-serveDone:
		if err != nil {
			runErr = WrapExitError(ExitCommandError, "MCP server error", err)
		}
	case err := <-runDone:
		runDone <- err
		if err != nil {
			runErr = WrapExitError(ExitCommandError, "coordinator error", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully")
	cancel()
	sess.coord.Stop()
	if err := <-runDone; err != nil && !errors.Is(err, coordinator.ErrClosed) && runErr == nil {
		runErr = WrapExitError(ExitCommandError, "coordinator error", err)
	}
	if publisherDone != nil {
		waitPublisher(publisherDone, logger)
	}

	logger.Info("Coordinator shutdown complete")
	return runErr
}

// startPublisher mirrors session state and cell changes into Redis. The
// returned channel closes once the publisher has drained both subscriptions.
func startPublisher(ctx context.Context, cfg config.PublisherConfig, coord *coordinator.Coordinator, logger *slog.Logger) (*observe.Publisher, <-chan struct{}, error) {
	publisher, err := observe.NewPublisher(ctx, cfg.RedisURL, coord.SessionID(), cfg.TTL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}

	states, _ := coord.SubscribeSession(subscriberBuffer)
	cells, _ := coord.SubscribeCells(subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		publisher.Run(ctx, states, cells)
	}()

	logger.Info("Publishing session state to Redis",
		"state_key", observe.StateKey(coord.SessionID()),
		"events_channel", observe.EventsChannel(coord.SessionID()))
	return publisher, done, nil
}

// waitPublisher blocks until the publisher drains or the flush budget runs out
func waitPublisher(done <-chan struct{}, logger *slog.Logger) {
	select {
	case <-done:
	case <-time.After(publisherDrainTimeout):
		logger.Warn("State publisher did not drain before shutdown")
	}
}
