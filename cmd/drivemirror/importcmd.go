package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <db>",
	Short: "Adopt records from an older onedrive_sync.db index",
	Long: `Copy the files table of a legacy index into this one. Paths that already
exist are left untouched; folders lose their hashes, download times without a
local hash are dropped and rows without an item id are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, needIndex, func(_ context.Context, a *app, out io.Writer) error {
			n, err := a.store.ImportLegacy(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "import-legacy: inserted=%d\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(importLegacyCmd)
}
