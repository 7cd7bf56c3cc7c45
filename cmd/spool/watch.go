package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [queue-file]",
		Short: "Live dashboard of queue depth and fill",
		Long:  "Watch polls the queue header once a second and shows record count, bytes used, growth rate and recent history. Press p to pause, q to quit.",
		Args:  queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := queuePath(args)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return monitor.Run(path)
		},
	}
}
