package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/ringfile"
)

// exclusiveNote is appended to the help of every command that opens a queue
// file for writing. Locking is per process only.
const exclusiveNote = `

The queue file must not be in use by another process (spool-forwarder or a
second spool command). There is no cross-process lock, and concurrent writers
corrupt the file.`

// queueArgs accepts an optional queue path and reports misuse as a usage error.
func queueArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return cli.NewUsageError(err.Error())
	}
	return nil
}

// queuePath returns the path argument or the configured queue location.
func queuePath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if cfg == nil {
		return ""
	}
	return cfg.QueuePath()
}

// openExisting opens a queue file without creating it.
func openExisting(path string) (*ringfile.QueueFile, error) {
	if path == "" {
		return nil, cli.NewUsageError("no queue path given and none configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if info.IsDir() {
		return nil, cli.NewUsageError(fmt.Sprintf("%s is a directory", path))
	}
	q, err := ringfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return q, nil
}

func verbose() bool {
	return cfg != nil && cfg.Verbose
}
