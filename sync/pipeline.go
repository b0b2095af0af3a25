package sync

import (
	"context"
	"fmt"
	"time"
)

// RunResult collects the reports of one full pass.
type RunResult struct {
	Discover  *DiscoverReport `json:"discover,omitempty"`
	Reconcile *Report         `json:"reconcile,omitempty"`
	Rehash    *Report         `json:"rehash,omitempty"`
	Download  *Report         `json:"download,omitempty"`
	Started   time.Time       `json:"started"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// Pipeline chains the engines into one full pass.
type Pipeline struct {
	discoverer *Discoverer
	reconciler *Reconciler
	engine     *SyncEngine
	refresh    bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRefresh makes every pass re-query the cloud hash of all file records
// (RefreshAll) instead of only the missing ones. Without it, remote edits to
// files inside folders that were already expanded are never noticed.
func WithRefresh(on bool) PipelineOption {
	return func(p *Pipeline) { p.refresh = on }
}

// NewPipeline creates a Pipeline from its stages.
func NewPipeline(d *Discoverer, r *Reconciler, e *SyncEngine, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{discoverer: d, reconciler: r, engine: e}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refreshes reports whether passes refresh every cloud hash.
func (p *Pipeline) Refreshes() bool {
	return p.refresh
}

// RunAll runs Discover → FillMissing (or RefreshAll) → RehashLocal →
// DownloadOutstanding.
// Each stage operates on whatever rows qualify at that point, so partial
// failures in one stage never block the next. An abort (ErrUnauthorized or
// cancellation) stops the pass and returns the reports gathered so far.
func (p *Pipeline) RunAll(ctx context.Context, rootID string) (*RunResult, error) {
	l := sub("pipeline")
	res := &RunResult{Started: nowFunc()}
	defer func() {
		res.Elapsed = time.Since(res.Started)
		recordRun("sync-all", res.Elapsed)
	}()

	l.Info("pass starting", "root", rootID, "refresh", p.refresh)

	var err error
	if res.Discover, err = p.discoverer.Discover(ctx, rootID); err != nil {
		return res, fmt.Errorf("discover: %w", err)
	}
	reconcile := p.reconciler.FillMissing
	if p.refresh {
		reconcile = p.reconciler.RefreshAll
	}
	if res.Reconcile, err = reconcile(ctx); err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	if res.Rehash, err = p.engine.RehashLocal(ctx); err != nil {
		return res, fmt.Errorf("rehash: %w", err)
	}
	if res.Download, err = p.engine.DownloadOutstanding(ctx); err != nil {
		return res, fmt.Errorf("download: %w", err)
	}

	l.Info("pass complete", "discover", res.Discover.String(), "reconcile", res.Reconcile.String(),
		"rehash", res.Rehash.String(), "download", res.Download.String())
	return res, nil
}
