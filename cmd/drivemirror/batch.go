package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/drivemirror/sync"
)

var (
	discoverRoot string
	syncAllFresh bool
	rehashAll    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Add newly seen remote files and folders to the index",
	Long: `Walk the remote tree and insert records for nodes not yet indexed.
Existing records are never modified; folders whose children are already
indexed are not listed again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, needRemote, func(ctx context.Context, a *app, out io.Writer) error {
			root := discoverRoot
			if root == "" {
				root = cfg.RootID
			}
			rep, err := a.discoverer().Discover(ctx, root)
			if rep != nil {
				fmt.Fprintln(out, rep.String())
				for _, p := range rep.Failed {
					fmt.Fprintf(out, "  failed: %s\n", displayPath(p))
				}
			}
			return err
		})
	},
}

// batchCmd builds a command around one remote engine operation returning
// a Report.
func batchCmd(use, short string, run func(context.Context, *app) (*sync.Report, error)) *cobra.Command {
	return localBatchCmd(use, short, needRemote, run)
}

func localBatchCmd(use, short string, needs appNeeds, run func(context.Context, *app) (*sync.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, needs, func(ctx context.Context, a *app, out io.Writer) error {
				rep, err := run(ctx, a)
				printReport(out, rep)
				return err
			})
		},
	}
}

var syncAllCmd = &cobra.Command{
	Use:   "sync-all",
	Short: "Discover, reconcile missing hashes, rehash local files, download outstanding",
	Long: `Run one full pass. Only files without a cloud hash are reconciled
unless --refresh is given, in which case every cloud hash is re-queried and
remote edits to already mirrored files are downloaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, needRemote, func(ctx context.Context, a *app, out io.Writer) error {
			res, err := a.pipeline(sync.WithRefresh(syncAllFresh)).RunAll(ctx, cfg.RootID)
			if res != nil {
				if res.Discover != nil {
					fmt.Fprintln(out, res.Discover.String())
				}
				printReport(out, res.Reconcile)
				printReport(out, res.Rehash)
				printReport(out, res.Download)
				fmt.Fprintf(out, "elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
			}
			return err
		})
	},
}

// rehashCmd only touches the index and the mirror, so it runs without
// remote credentials.
var rehashCmd = localBatchCmd("rehash-local", "Recompute local hashes of files changed in the mirror", needLocal,
	func(ctx context.Context, a *app) (*sync.Report, error) {
		if rehashAll {
			return a.syncEngine().RehashAllLocal(ctx)
		}
		return a.syncEngine().RehashLocal(ctx)
	})

func init() {
	rehashCmd.Flags().BoolVar(&rehashAll, "all", false, "hash every mirrored file, even those unchanged since download")
	syncAllCmd.Flags().BoolVar(&syncAllFresh, "refresh", false, "re-query every cloud hash instead of only missing ones")
	discoverCmd.Flags().StringVar(&discoverRoot, "root", "", "remote id to start from (default: root_id or the drive root); "+
		"an indexed folder keeps its path, an unknown id makes its children root-level")

	rootCmd.AddCommand(
		discoverCmd,
		batchCmd("reconcile-missing", "Fetch cloud hashes for files that have none",
			func(ctx context.Context, a *app) (*sync.Report, error) { return a.reconciler().FillMissing(ctx) }),
		batchCmd("reconcile-all", "Refresh the cloud hash of every file",
			func(ctx context.Context, a *app) (*sync.Report, error) { return a.reconciler().RefreshAll(ctx) }),
		batchCmd("sync-new", "Download files that were never downloaded",
			func(ctx context.Context, a *app) (*sync.Report, error) { return a.syncEngine().SyncMissingOnly(ctx) }),
		batchCmd("sync-outstanding", "Download files whose local copy is missing or stale",
			func(ctx context.Context, a *app) (*sync.Report, error) { return a.syncEngine().DownloadOutstanding(ctx) }),
		rehashCmd,
		syncAllCmd,
	)
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, needs appNeeds, fn func(context.Context, *app, io.Writer) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, needs)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, cmd.OutOrStdout())
}

func printReport(out io.Writer, rep *sync.Report) {
	if rep == nil {
		return
	}
	fmt.Fprintln(out, rep.String())
	if rep.NotAttempted > 0 {
		fmt.Fprintf(out, "  not attempted: %d\n", rep.NotAttempted)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  failed: %s: %s\n", f.Path, f.Error)
	}
}

func displayPath(p string) string {
	if p == "" {
		return "(root)"
	}
	return p
}
