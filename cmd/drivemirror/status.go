package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ghyeongl/drivemirror/sync"
)

var (
	statusOutput string
	statusList   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how the mirror compares with the index (read-only)",
	Long: `Partition every indexed file by its cloud and local hashes:

  in sync     both hashes known and equal
  stale       both known, different
  cloud only  never hashed locally
  local only  no cloud hash yet
  unknown     neither hash known

Nothing is modified and no remote call is made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch statusOutput {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", statusOutput)
		}
		return withApp(cmd, needIndex, func(ctx context.Context, a *app, out io.Writer) error {
			s, err := sync.NewDiffReporter(a.store).Summary(ctx)
			if err != nil {
				return err
			}
			if !statusList {
				s.StalePaths, s.CloudOnlyPaths, s.MissingCloudPaths, s.MissingLocalPaths = nil, nil, nil, nil
			}
			return writeSummary(out, statusOutput, s)
		})
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text, json or yaml")
	statusCmd.Flags().BoolVar(&statusList, "list", false, "include the path lists")
	rootCmd.AddCommand(statusCmd)
}

func writeSummary(out io.Writer, format string, s *sync.DiffSummary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "files:      %d (%s)\n", s.Files, humanize.IBytes(uint64(max(s.TotalSize, 0))))
	fmt.Fprintf(out, "folders:    %d\n", s.Folders)
	fmt.Fprintf(out, "in sync:    %d\n", s.InSync)
	fmt.Fprintf(out, "stale:      %d\n", s.Stale)
	fmt.Fprintf(out, "cloud only: %d\n", s.CloudOnly)
	fmt.Fprintf(out, "local only: %d\n", s.LocalOnly)
	fmt.Fprintf(out, "unknown:    %d\n", s.Unknown)

	section := func(title string, paths []string) {
		if len(paths) == 0 {
			return
		}
		fmt.Fprintf(out, "\n%s:\n", title)
		for _, p := range paths {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	section("stale", s.StalePaths)
	section("cloud only", s.CloudOnlyPaths)
	section("missing cloud hash", s.MissingCloudPaths)
	section("missing local hash", s.MissingLocalPaths)
	return nil
}
