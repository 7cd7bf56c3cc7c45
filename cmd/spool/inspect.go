package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ppiankov/spool/internal/monitor"
	"github.com/ppiankov/spool/internal/ringfile"
)

var labelStyle = lipgloss.NewStyle().Faint(true)

// Summary is the committed state of a queue file.
type Summary struct {
	Path       string `json:"path"`
	Records    int64  `json:"records"`
	UsedBytes  int64  `json:"used_bytes"`
	FileLength int64  `json:"file_length"`
	First      int64  `json:"first"`
	Tail       int64  `json:"tail"`
	Commit     uint64 `json:"commit"`
}

func newInspectCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "inspect [queue-file]",
		Short: "Show queue file summary",
		Long:  "Read the committed header of a queue file and show record count, bytes used and file length. The file is not opened for writing.",
		Args:  queueArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), queuePath(args), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runInspect(w io.Writer, path string, jsonOutput bool) error {
	h, err := ringfile.Inspect(path)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	s := Summary{
		Path:       path,
		Records:    h.Count,
		UsedBytes:  h.UsedBytes(),
		FileLength: h.FileLength,
		First:      h.First,
		Tail:       h.Tail,
		Commit:     h.Seq,
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	row := func(label, value string) {
		_, _ = fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), value)
	}
	row("Path:", s.Path)
	row("Records:", fmt.Sprintf("%d", s.Records))
	row("Used:", monitor.FormatBytes(s.UsedBytes))
	row("File length:", monitor.FormatBytes(s.FileLength))
	row("Commit:", fmt.Sprintf("%d", s.Commit))
	return nil
}
