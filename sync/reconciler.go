package sync

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Reconciler fetches cloud hashes for discovered file records.
type Reconciler struct {
	store    *Store
	provider Provider
	cfg      Config
}

// NewReconciler creates a Reconciler.
func NewReconciler(store *Store, provider Provider, cfg Config) *Reconciler {
	return &Reconciler{store: store, provider: provider, cfg: cfg.withDefaults()}
}

// FillMissing queries the cloud hash of every file record that has none.
func (r *Reconciler) FillMissing(ctx context.Context) (*Report, error) {
	return r.run(ctx, "reconcile-missing", SelectMissingCloudHash)
}

// RefreshAll re-queries the cloud hash of every file record. Provider-side
// hash caches are bypassed.
func (r *Reconciler) RefreshAll(ctx context.Context) (*Report, error) {
	return r.run(WithFreshHash(ctx), "reconcile-all", SelectAllFiles)
}

func (r *Reconciler) run(ctx context.Context, op string, sel Selector) (*Report, error) {
	start := time.Now()
	defer func() { recordRun(op, time.Since(start)) }()

	recs, err := r.store.SelectFiles(sel)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, op, recs, r.cfg.Workers, r.cfg.Events, r.reconcileOne)
}

// reconcileOne leaves the record untouched on any failure, and also when
// the remote item has no hash yet.
func (r *Reconciler) reconcileOne(ctx context.Context, rec IndexRecord) error {
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	hash, ok, err := r.provider.GetContentHash(rctx, rec.RemoteID)
	if err != nil {
		return fmt.Errorf("hash of %s: %w", rec.Path, err)
	}
	if !ok || hash == "" {
		return fmt.Errorf("%s: remote has no hash: %w", rec.Path, errSkipped)
	}
	hash = strings.ToLower(hash)
	if hash == strings.ToLower(rec.CloudHash) {
		return nil
	}
	if err := r.store.SetCloudHash(rec.Path, hash); err != nil {
		return err
	}
	if rec.CloudHash != "" {
		sub("reconcile").Info("cloud hash changed", "path", rec.Path, "old", rec.CloudHash, "new", hash)
	}
	return nil
}
