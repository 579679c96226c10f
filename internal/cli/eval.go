package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
	"github.com/AltairaLabs/notebook-exec/internal/kernel"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

const (
	evalWorksheetID = "main"
	evalCellID      = "cell-1"
)

// EvalOptions holds flags for the eval command
type EvalOptions struct {
	*RootOptions
	Source  string
	Local   bool
	Timeout time.Duration

	// Executor overrides the configured executor of a --local run (for testing)
	Executor kernel.Executor
}

// NewEvalCommand creates the eval command
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one cell and print its output",
		Long: `Evaluate a single cell and print its output.

The source is taken from --source, or read from stdin when the flag is
absent. The command exits 1 when the cell fails.

Example:
  coordinator eval --source 'print(6*7)'
  echo 'print(6*7)' | coordinator eval --local`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "cell source (default: read stdin)")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "run the cell in-process instead of dialing the kernel")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "give up waiting for a result after this long")

	return cmd
}

func runEval(cmd *cobra.Command, opts *EvalOptions) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}

	source := opts.Source
	if !cmd.Flags().Changed("source") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read source", err)
		}
		source = strings.TrimRight(string(data), "\n")
	}

	sess, err := newSession(cfg, sessionOptions{Local: opts.Local, Executor: opts.Executor}, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	ws, err := sess.nb.AddWorksheet(evalWorksheetID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create worksheet", err)
	}
	cell, err := ws.AddCell(evalCellID, source)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create cell", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	changes, unsubscribe := sess.coord.SubscribeCells(subscriberBuffer)
	defer unsubscribe()

	runDone := make(chan error, 1)
	go func() {
		runDone <- sess.coord.Run(ctx)
	}()
	defer func() {
		sess.coord.Stop()
		<-runDone
	}()

	if err := sess.coord.Evaluate(cell, evalWorksheetID); err != nil {
		return WrapExitError(ExitCommandError, "failed to evaluate cell", err)
	}

	snap, err := waitForOutcome(ctx, changes, cell)
	if err != nil {
		return WrapExitError(ExitCommandError, "no result", err)
	}

	out := cmd.OutOrStdout()
	if snap.State == notebook.StateFailed {
		detail := snap.Output.Error
		if detail == nil {
			return NewExitError(ExitFailure, "cell failed")
		}
		fmt.Fprintln(out, detail.Message)
		return NewExitError(ExitFailure, fmt.Sprintf("cell failed (%s)", detail.Kind))
	}

	fmt.Fprintln(out, snap.Output.Payload)
	return nil
}

// waitForOutcome blocks until cell reaches Completed or Failed
func waitForOutcome(ctx context.Context, changes <-chan coordinator.CellChange, cell *notebook.Cell) (notebook.CellSnapshot, error) {
	for {
		// The cell may have settled before the subscription observed it
		if snap := cell.Snapshot(); settled(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return notebook.CellSnapshot{}, ctx.Err()
		case change, ok := <-changes:
			if !ok {
				if snap := cell.Snapshot(); settled(snap) {
					return snap, nil
				}
				return notebook.CellSnapshot{}, errors.New("session closed before the cell completed")
			}
			if change.Cell.ID == cell.ID() && settled(change.Cell) {
				return change.Cell, nil
			}
		}
	}
}

func settled(snap notebook.CellSnapshot) bool {
	return snap.Ordinal > 0 && (snap.State == notebook.StateCompleted || snap.State == notebook.StateFailed)
}
