package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/config"
)

var (
	version = "dev"

	cfg        *config.Config
	jsonErrors bool
)

func main() {
	if err := execute(); err != nil {
		err = cli.Classify(err)
		cli.FormatError(os.Stderr, err, jsonErrors)
		os.Exit(cli.ExitCode(err))
	}
}

func execute() error {
	cfg = config.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spool",
		Short:         "Durable on-disk event queue with batched delivery",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonErrors, "json-errors", false, "print errors as JSON")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.NewUsageError(err.Error())
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newEnqueueCmd())
	root.AddCommand(newDrainCmd())
	root.AddCommand(newClearCmd())
	root.AddCommand(newWatchCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "spool %s\n", version)
			return nil
		},
	}
}
