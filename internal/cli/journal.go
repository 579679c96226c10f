package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/journal"
	"github.com/AltairaLabs/notebook-exec/internal/observe"
)

// JournalOptions holds flags for the journal command
type JournalOptions struct {
	*RootOptions
	SessionID string
}

// NewJournalCommand creates the journal command
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the execution journal",
		Long: `Inspect the execution journal at journal.path (JOURNAL_PATH).

Without --session every journaled session is listed with its event counts.
With --session the entries of that session are printed in order, followed by
the last state published to Redis when publisher.redis_url is set.

Example:
  coordinator journal
  coordinator journal --session 0192f4c6-7d3a-7b1e-9c55-1f0e2d3c4b5a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJournal(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "print the entries of one session")

	return cmd
}

func runJournal(cmd *cobra.Command, opts *JournalOptions) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return NewExitError(ExitCommandError, "journal.path is not set (JOURNAL_PATH)")
	}

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if opts.SessionID == "" {
		return listSessions(ctx, out, store)
	}
	if err := printSession(ctx, out, store, opts.SessionID); err != nil {
		return err
	}
	if cfg.Publisher.RedisURL != "" {
		printPublishedState(ctx, out, cfg.Publisher, opts.SessionID, logger)
	}
	return nil
}

func listSessions(ctx context.Context, out io.Writer, store *journal.Store) error {
	ids, err := store.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	for _, id := range ids {
		counts, err := store.CountByEvent(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count entries", err)
		}
		fmt.Fprintf(out, "%s\t%s\n", id, formatCounts(counts))
	}
	return nil
}

func printSession(ctx context.Context, out io.Writer, store *journal.Store, sessionID string) error {
	entries, err := store.List(ctx, sessionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list entries", err)
	}
	if len(entries) == 0 {
		return NewExitError(ExitCommandError, "no journal entries for session "+sessionID)
	}

	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s/%s#%d\t%s",
			e.RecordedAt.UTC().Format(time.RFC3339Nano),
			e.WorksheetID, e.CellID, e.Ordinal,
			e.Event)
		if e.Detail != "" {
			fmt.Fprintf(out, "\t%s", e.Detail)
		}
		fmt.Fprintln(out)
	}

	counts, err := store.CountByEvent(ctx, sessionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count entries", err)
	}
	fmt.Fprintf(out, "total\t%s\n", formatCounts(counts))
	return nil
}

// printPublishedState reports the Redis snapshot. Redis being unreachable
// does not fail the command.
func printPublishedState(ctx context.Context, out io.Writer, cfg config.PublisherConfig, sessionID string, logger *slog.Logger) {
	publisher, err := observe.NewPublisher(ctx, cfg.RedisURL, sessionID, cfg.TTL, logger)
	if err != nil {
		logger.Warn("Published state unavailable", "error", err)
		return
	}
	defer publisher.Close()

	state, err := publisher.Load(ctx)
	switch {
	case errors.Is(err, observe.ErrNotFound):
		fmt.Fprintln(out, "state\tnot published")
	case err != nil:
		logger.Warn("Published state unavailable", "error", err)
	default:
		fmt.Fprintf(out, "state\t%s pending=%d\n", state.ConnectionStatus, state.PendingCount)
	}
}

func formatCounts(counts map[journal.Event]int) string {
	parts := make([]string, 0, len(counts))
	for event, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", event, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
