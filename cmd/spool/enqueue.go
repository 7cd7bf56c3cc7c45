package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/config"
	"github.com/ppiankov/spool/internal/contextutil"
	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/record"
	"github.com/ppiankov/spool/internal/ringfile"
)

func newEnqueueCmd() *cobra.Command {
	var (
		maxSize        int
		redact         string
		redactPatterns string
	)

	cmd := &cobra.Command{
		Use:   "enqueue [queue-file]",
		Short: "Append JSON lines from stdin to a queue file",
		Long: `Enqueue reads one JSON object per line from stdin, stamps messageId and
timestamp when missing, and appends each record to the queue. When the queue
is full the oldest records are dropped. Invalid lines are skipped and counted.

With --redact, PII in string values is replaced before the record is stored:
  --redact              all built-in patterns
  --redact=email,ssn    a subset` + exclusiveNote,
		Args: queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := currentConfig()
			if cmd.Flags().Changed("redact") || redactPatterns != "" {
				cp := *c
				if cmd.Flags().Changed("redact") {
					cp.Redact.Patterns = redact
				}
				if redactPatterns != "" {
					cp.Redact.File = redactPatterns
				}
				c = &cp
			}
			return runEnqueue(cmd, c, queuePath(args), maxSize)
		},
	}

	cmd.Flags().IntVar(&maxSize, "max-size", 0, "maximum queued records before the oldest are dropped (default from config, else 1000)")
	cmd.Flags().StringVar(&redact, "redact", "", "redact PII: all patterns, or a comma list (credit_card,email,jwt,bearer,ip_v4,ssn,phone)")
	cmd.Flags().Lookup("redact").NoOptDefVal = "all"
	cmd.Flags().StringVar(&redactPatterns, "redact-patterns", "", "path to custom redaction patterns YAML file")

	return cmd
}

func runEnqueue(cmd *cobra.Command, c *config.Config, path string, maxSize int) error {
	if path == "" {
		return cli.NewUsageError("no queue path given and none configured")
	}
	dc, err := c.DispatcherConfig()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	redactor, err := c.Redactor()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	if maxSize <= 0 {
		maxSize = dc.MaxQueueSize
	}
	if maxSize <= 0 {
		maxSize = forward.DefaultMaxQueueSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	q, err := ringfile.Open(path)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	logger := cli.NewLogger(cmd.ErrOrStderr(), c.Verbose)
	bounded := forward.NewBoundedQueue(q, maxSize, dc.FlushQueueSize)
	reader := forward.NewLineReader(record.JSONCodec{MaxBytes: dc.MaxRecordBytes, Redactor: redactor}, logger)

	ctx, cancel := contextutil.NewSignalContext()
	defer cancel()

	stats, err := reader.Feed(ctx, cmd.InOrStdin(), func(data []byte) error {
		_, err := bounded.Enqueue(data)
		return err
	})
	printEnqueueStats(cmd.OutOrStdout(), stats, bounded.Evicted(), q.Size())
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func printEnqueueStats(w io.Writer, stats forward.ReadStats, evicted int64, size int) {
	_, _ = fmt.Fprintf(w, "Queued %d of %d lines (%d rejected, %d evicted); %d records queued\n",
		stats.Accepted, stats.Lines, stats.Rejected, evicted, size)
}

// currentConfig returns the loaded config, or an empty one when none was loaded.
func currentConfig() *config.Config {
	if cfg == nil {
		return &config.Config{}
	}
	return cfg
}
