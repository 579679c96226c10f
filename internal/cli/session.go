package cli

import (
	"fmt"
	"log/slog"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
	"github.com/AltairaLabs/notebook-exec/internal/journal"
	"github.com/AltairaLabs/notebook-exec/internal/kernel"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

// sessionOptions selects how a session reaches its kernel
type sessionOptions struct {
	// Local runs cells in-process instead of dialing the kernel
	Local bool
	// Executor overrides the configured executor of a local session
	Executor kernel.Executor
}

// session bundles a coordinator with the resources it owns
type session struct {
	coord   *coordinator.Coordinator
	nb      *notebook.Notebook
	store   *journal.Store
	journal *journal.Writer
}

// newSession wires notebook, channel and journal into a coordinator
func newSession(cfg config.Config, opts sessionOptions, logger *slog.Logger) (*session, error) {
	ch, err := newChannel(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	s := &session{nb: notebook.New(cfg.NotebookID)}

	var recorder coordinator.Recorder
	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		s.store = store
		s.journal = journal.NewWriter(store, cfg.Journal.Buffer, logger)
		recorder = s.journal
		logger.Info("Execution journal enabled", "path", cfg.Journal.Path)
	}

	coord, err := coordinator.New(coordinator.Config{
		Notebook: s.nb,
		Channel:  ch,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	s.coord = coord
	return s, nil
}

func newChannel(cfg config.Config, opts sessionOptions, logger *slog.Logger) (channel.Channel, error) {
	if !opts.Local {
		if err := cfg.Channel.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid channel config", err)
		}
		logger.Info("Using gRPC kernel channel", "kernel_addr", cfg.Channel.KernelAddr)
		return channel.NewGRPC(cfg.Channel, channel.WithLogger(logger)), nil
	}

	executor := opts.Executor
	if executor == nil {
		var err error
		executor, err = kernel.NewRegistry().Create(cfg.Kernel.Executor, cfg.Kernel.WorkDir)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create executor", err)
		}
	}
	logger.Info("Using in-process channel", "executor", cfg.Kernel.Executor)
	return channel.NewLocal(executor, cfg.Kernel.ExecutionTimeout, logger), nil
}

// Close flushes the journal once the coordinator has stopped
func (s *session) Close() {
	if s.journal != nil {
		s.journal.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("Failed to close journal", "error", err)
		}
	}
}
