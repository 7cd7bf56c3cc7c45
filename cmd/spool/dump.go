package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dump [queue-file]",
		Short: "Print queued records oldest first",
		Long:  "Dump prints each queued record as one JSON line, oldest first. The queue is left unchanged." + exclusiveNote,
		Args:  queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.OutOrStdout(), queuePath(args), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records to print (0 = all)")

	return cmd
}

func runDump(w io.Writer, path string, limit int) error {
	q, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	bw := bufio.NewWriter(w)
	printed := 0
	var werr error
	err = q.ForEach(func(data []byte) bool {
		if limit > 0 && printed >= limit {
			return false
		}
		if _, werr = bw.Write(data); werr == nil {
			werr = bw.WriteByte('\n')
		}
		printed++
		return werr == nil
	})
	if err == nil {
		err = werr
	}
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return bw.Flush()
}
