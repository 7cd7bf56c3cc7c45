package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/export"
	"github.com/ppiankov/spool/internal/monitor"
)

func newExportCmd() *cobra.Command {
	var (
		formatStr string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "export [queue-file]",
		Short: "Export queued records to JSONL or parquet",
		Long:  "Copy every queued record to a file for offline analysis (DuckDB, pandas, jq). The queue is left unchanged." + exclusiveNote,
		Args:  queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, queuePath(args), formatStr, outPath)
		},
	}

	cmd.Flags().StringVar(&formatStr, "format", "jsonl", "output format: jsonl, parquet")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file path (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(cmd *cobra.Command, path, formatStr, outPath string) error {
	format, err := export.ParseFormat(formatStr)
	if err != nil {
		return cli.NewUsageError(err.Error())
	}

	q, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	stderr := cmd.ErrOrStderr()
	progress := func(written int64) {
		_, _ = fmt.Fprintf(stderr, "\rExporting: %d / %d records", written, q.Size())
	}

	n, err := export.Export(q, outPath, format, progress)
	if n >= 10000 {
		_, _ = fmt.Fprintln(stderr)
	}
	if err != nil {
		return err
	}

	size := "?"
	if info, err := os.Stat(outPath); err == nil {
		size = monitor.FormatBytes(info.Size())
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s (%s)\n", n, outPath, size)
	return nil
}
