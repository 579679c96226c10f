package cli

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/notebook-exec/internal/kernel"
)

const kernelShutdownTimeout = 2 * time.Second

// KernelOptions holds flags for the kernel command
type KernelOptions struct {
	*RootOptions
	Executor string
	Port     string
}

// NewKernelCommand creates the kernel command
func NewKernelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KernelOptions{RootOptions: rootOpts}
	names := kernel.NewRegistry().Names()

	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Run the reference execution kernel",
		Long: `Run the reference execution kernel as a gRPC server.

Coordinators connect to it with KERNEL_ADDR. The port defaults to
kernel.grpc_port (GRPC_PORT).

Example:
  coordinator kernel --executor python --port 50051`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKernel(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Executor, "executor", "", fmt.Sprintf("executor (%s)", strings.Join(names, "|")))
	cmd.Flags().StringVar(&opts.Port, "port", "", "gRPC listen port")

	return cmd
}

// NewKernelRootCommand creates the standalone kernel binary command
func NewKernelRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := NewKernelCommand(opts)
	cmd.Version = Version
	addGlobalFlags(cmd, opts)
	return cmd
}

func runKernel(cmd *cobra.Command, opts *KernelOptions) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	if opts.Executor != "" {
		cfg.Kernel.Executor = opts.Executor
	}
	if opts.Port != "" {
		cfg.Kernel.GRPCPort = opts.Port
	}
	if err := cfg.Kernel.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid kernel config", err)
	}

	executor, err := kernel.NewRegistry().Create(cfg.Kernel.Executor, cfg.Kernel.WorkDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create executor", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", ":"+cfg.Kernel.GRPCPort)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen on port "+cfg.Kernel.GRPCPort, err)
	}

	grpcServer := grpc.NewServer()
	kernelServer := kernel.NewServer(kernel.ServerConfig{
		Executor:         executor,
		ExecutionTimeout: cfg.Kernel.ExecutionTimeout,
		Logger:           logger,
	})
	kernelServer.Register(grpcServer)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Kernel listening",
			"port", cfg.Kernel.GRPCPort,
			"executor", cfg.Kernel.Executor)
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitCommandError, "gRPC server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Stopping kernel", "executing", kernelServer.Executing())

	// Streams stay open while coordinators are connected, so GracefulStop
	// is bounded and followed by Stop
	shutdownComplete := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(shutdownComplete)
	}()
	select {
	case <-shutdownComplete:
		logger.Info("Kernel stopped gracefully")
	case <-time.After(kernelShutdownTimeout):
		logger.Warn("Graceful shutdown timeout, forcing stop")
		grpcServer.Stop()
		<-shutdownComplete
	}
	return nil
}
