package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ghyeongl/drivemirror/config"
	"github.com/ghyeongl/drivemirror/remote/aferofs"
	"github.com/ghyeongl/drivemirror/remote/graph"
	"github.com/ghyeongl/drivemirror/remote/s3store"
	"github.com/ghyeongl/drivemirror/sync"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "drivemirror",
		Short: "Mirror a remote drive into a local directory",
		Long: `drivemirror keeps a persistent index of a remote file tree and syncs a
local copy of it, using content hashes as the only test of freshness.

Examples:
  drivemirror sync-all                 # discover, reconcile, rehash, download
  drivemirror discover --root <id>     # index a sub-tree only
  drivemirror status -o yaml --list    # what is stale or missing
  drivemirror serve                    # run passes on an interval + HTTP API
  drivemirror config show              # effective configuration`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/drivemirror/config.yaml)")
	pf.String("index", "", "path of the SQLite index")
	pf.String("local-root", "", "local mirror directory")
	pf.StringP("provider", "p", "", "remote provider: graph, s3 or dir")
	pf.IntP("workers", "w", 0, "concurrent remote calls")
	pf.String("log-level", "", "console log level: debug, info, warn, error")
	pf.String("log-dir", "", "directory for rotating and audit logs")
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"index":      "index_path",
	"local-root": "local_root",
	"provider":   "provider",
	"workers":    "workers",
	"log-level":  "log.level",
	"log-dir":    "log.dir",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// initConfig loads configuration and starts logging for every command.
func initConfig(cmd *cobra.Command, _ []string) error {
	v := config.New(cfgFile)
	if err := bindFlags(v, cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	sync.InitLogger(sync.LogConfig{Dir: cfg.Log.Dir, Level: cfg.Log.Level})
	runID := uuid.NewString()
	sync.SetRunID(runID)
	sync.Logger("cli").Debug("run started", "cmd", cmd.CommandPath(), "run", runID)
	return nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// app bundles what a command needs. Close releases the index.
type app struct {
	db       *sql.DB
	store    *sync.Store
	provider sync.Provider
	engine   sync.Config
	hasher   sync.Hasher
}

// appNeeds says how much of the app a command opens.
type appNeeds int

const (
	needIndex  appNeeds = iota // index only
	needLocal                  // index and hasher
	needRemote                 // index, hasher and remote provider
)

// openApp opens the index and whatever else needs asks for.
func openApp(ctx context.Context, needs appNeeds) (*app, error) {
	db, err := sync.OpenDB(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, store: sync.NewStore(db)}

	minFree, _ := cfg.MinFreeBytes() // validated in Load
	a.engine = sync.Config{
		LocalRoot:       cfg.LocalRoot,
		Workers:         cfg.Workers,
		RequestTimeout:  cfg.RequestTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MinFreeBytes:    minFree,
		Ignore:          sync.LoadSyncIgnore(cfg.IgnorePath(sync.DefaultIgnoreFile)),
	}

	if needs >= needRemote {
		a.provider, err = newProvider(ctx, cfg)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	if needs >= needLocal {
		a.hasher = sync.NewHasher(ctx, sync.HasherConfig{
			Command:         cfg.Hasher.Command,
			DisableExternal: cfg.Hasher.DisableExternal,
		})
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) discoverer() *sync.Discoverer {
	return sync.NewDiscoverer(a.store, a.provider, a.engine)
}

func (a *app) reconciler() *sync.Reconciler {
	return sync.NewReconciler(a.store, a.provider, a.engine)
}

func (a *app) syncEngine() *sync.SyncEngine {
	return sync.NewSyncEngine(a.store, a.provider, a.hasher, a.engine)
}

func (a *app) pipeline(opts ...sync.PipelineOption) *sync.Pipeline {
	return sync.NewPipeline(a.discoverer(), a.reconciler(), a.syncEngine(), opts...)
}

func newProvider(ctx context.Context, c *config.Config) (sync.Provider, error) {
	switch c.Provider {
	case config.ProviderGraph:
		p, err := graph.New(c.Graph)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderS3:
		p, err := s3store.New(ctx, c.S3)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderDir:
		return aferofs.NewDir(c.Dir.Root), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}
