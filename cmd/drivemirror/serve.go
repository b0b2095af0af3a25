package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/drivemirror/sync"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run full passes on an interval and serve the status API",
	Long: `Run sync-all immediately and then every serve.interval. With
serve.refresh_hashes (the default) each pass refreshes every cloud hash, so
remote edits are downloaded on the next pass. Files edited in
the mirror between passes are re-hashed as they change. A read-only HTTP API
is served on serve.addr:

  GET /api/status               reconciliation summary
  GET /api/records?parent=P     children of a folder
  GET /api/record?path=P        one record
  GET /api/stats                disk usage, daemon state, recent errors
  GET /api/events               server-sent engine events
  GET /metrics                  Prometheus metrics

Stops on SIGINT/SIGTERM or when the provider rejects the credentials.`,
	Args: cobra.NoArgs,
}

func init() {
	// Assigned here rather than in the literal: runServe reads serveCmd's
	// flags, which would otherwise form an initialization cycle.
	serveCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, needRemote, runServe)
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address (default serve.addr)")
	serveCmd.Flags().Duration("interval", 0, "pause between passes (default serve.interval)")
	serveCmd.Flags().Bool("refresh", true, "re-query every cloud hash on each pass (default serve.refresh_hashes)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, a *app, _ io.Writer) error {
	l := sync.Logger("serve")
	addr := cfg.Serve.Addr
	interval := cfg.Serve.Interval
	if f := serveCmd.Flags(); f.Changed("addr") {
		addr, _ = f.GetString("addr")
	}
	if f := serveCmd.Flags(); f.Changed("interval") {
		interval, _ = f.GetDuration("interval")
	}

	bus := sync.NewEventBus()
	a.engine.Events = bus
	engine := a.syncEngine()
	refresh := cfg.Serve.RefreshHashes
	if f := serveCmd.Flags(); f.Changed("refresh") {
		refresh, _ = f.GetBool("refresh")
	}
	daemon := sync.NewDaemon(a.pipeline(sync.WithRefresh(refresh)), engine, a.engine, cfg.RootID, interval)

	srv := &http.Server{
		Addr:              addr,
		Handler:           sync.NewHandlers(a.store, daemon, bus, cfg.LocalRoot).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		l.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			cancel()
		}
		close(srvErr)
	}()

	runErr := daemon.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("http shutdown", "err", err)
	}

	if err := <-srvErr; err != nil {
		return err
	}
	return runErr
}
