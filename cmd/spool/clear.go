package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
)

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear [queue-file]",
		Short: "Discard every queued record",
		Long:  "Clear removes every record and shrinks the queue file to its initial length." + exclusiveNote,
		Args:  queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.OutOrStdout(), queuePath(args), yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "discard without confirmation")

	return cmd
}

func runClear(w io.Writer, path string, yes bool) error {
	q, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	n := q.Size()
	if n > 0 && !yes {
		return cli.NewUsageError(fmt.Sprintf("%s holds %d records; pass --yes to discard them", path, n))
	}
	if err := q.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Cleared %d records from %s\n", n, path)
	return nil
}
