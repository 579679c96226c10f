// Package cli implements the coordinator and kernel command lines.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/notebook-exec/internal/config"
)

// Version is reported by --version
const Version = "0.1.0"

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	Debug      bool

	// LogOutput receives the JSON log stream; stderr when nil
	LogOutput io.Writer
}

// NewRootCommand creates the coordinator command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "coordinator",
		Short:   "Notebook cell execution coordinator",
		Long:    "Runs notebook sessions that sequence cell evaluations against a remote execution kernel.",
		Version: Version,
	}
	addGlobalFlags(cmd, opts)

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewKernelCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}

func addGlobalFlags(cmd *cobra.Command, opts *RootOptions) {
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")
}

// setup loads configuration and installs the JSON logger
func (o *RootOptions) setup() (config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if o.Debug {
		level = slog.LevelDebug
	}
	out := o.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, logger, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, logger, nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
