package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/contextutil"
	"github.com/ppiankov/spool/internal/forward"
)

const defaultFlushTimeout = 30 * time.Second

func newDrainCmd() *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "drain [queue-file]",
		Short: "Deliver queued records until the queue is empty",
		Long: `Drain uploads the queue in byte-bounded batches to an HTTP endpoint or an
object store (s3://bucket/prefix, gs://bucket/prefix). Delivered records are
removed; on the first failed batch drain stops and the rest stay queued.` + exclusiveNote,
		Args: queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd, queuePath(args), target, timeout)
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "delivery target (default from config transport.target)")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultFlushTimeout, "timeout per batch")

	return cmd
}

func runDrain(cmd *cobra.Command, path, target string, timeout time.Duration) error {
	c := currentConfig()
	if target == "" {
		target = c.Transport.Target
	}
	if target == "" {
		return cli.NewUsageError("no target: pass --to or set transport.target")
	}
	opts, err := c.TransportOptions()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	dc, err := c.DispatcherConfig()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	dc.FlushInterval = -1

	q, err := openExisting(path)
	if err != nil {
		return err
	}

	ctx, cancel := contextutil.NewSignalContext()
	defer cancel()

	t, err := forward.NewTransport(ctx, target, opts)
	if err != nil {
		_ = q.Close()
		return cli.NewUsageError(err.Error())
	}

	initial := q.Size()
	logger := cli.NewLogger(cmd.ErrOrStderr(), c.Verbose)
	d := forward.New(q, t, dc, forward.WithLogger(logger))

	remaining, batches, err := drainAll(ctx, d, initial, timeout)
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d records in %d batches to %s; %d remaining\n",
		initial-remaining, batches, target, remaining)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// drainAll flushes until the queue is empty or a flush fails. remaining is
// the queue size reported by the last completed flush, starting from initial.
func drainAll(ctx context.Context, d *forward.Dispatcher, initial int, timeout time.Duration) (remaining, batches int, err error) {
	remaining = initial
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return remaining, batches, err
		}
		fctx, cancel := context.WithTimeout(ctx, timeout)
		res, err := d.FlushSync(fctx)
		cancel()
		if res.Outcome != "" {
			remaining = res.Remaining
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("batch not acknowledged within %s: %w", timeout, err)
			}
			return remaining, batches, err
		}
		switch res.Outcome {
		case forward.OutcomeDelivered:
			batches++
		case forward.OutcomeEmpty:
			return 0, batches, nil
		}
	}
	return remaining, batches, nil
}
