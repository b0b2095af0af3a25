package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

// SyncEngine downloads remote content into the local mirror and records the
// hash of what was written.
type SyncEngine struct {
	store    *Store
	provider Provider
	hasher   Hasher
	cfg      Config
}

// NewSyncEngine creates a SyncEngine.
func NewSyncEngine(store *Store, provider Provider, hasher Hasher, cfg Config) *SyncEngine {
	return &SyncEngine{store: store, provider: provider, hasher: hasher, cfg: cfg.withDefaults()}
}

// DownloadOutstanding downloads every file never hashed locally or whose
// local hash differs from its cloud hash.
func (e *SyncEngine) DownloadOutstanding(ctx context.Context) (*Report, error) {
	return e.run(ctx, "sync-outstanding", SelectOutstanding)
}

// SyncMissingOnly downloads only files that were never downloaded. Changed
// remote content of already mirrored files is left alone.
func (e *SyncEngine) SyncMissingOnly(ctx context.Context) (*Report, error) {
	return e.run(ctx, "sync-new", SelectNeverDownloaded)
}

func (e *SyncEngine) run(ctx context.Context, op string, sel Selector) (*Report, error) {
	start := time.Now()
	defer func() { recordRun(op, time.Since(start)) }()

	if err := os.MkdirAll(e.cfg.LocalRoot, 0755); err != nil {
		return nil, localErr("mkdir", e.cfg.LocalRoot, err)
	}
	recs, err := e.store.SelectFiles(sel)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, op, recs, e.cfg.Workers, e.cfg.Events, e.downloadOne)
}

// downloadOne writes the record's content and then updates local_hash and
// downloaded_at in one statement. Any earlier failure leaves the record as
// it was, so it stays eligible for the next pass.
func (e *SyncEngine) downloadOne(ctx context.Context, rec IndexRecord) error {
	l := sub("download")
	dst, err := LocalPath(e.cfg.LocalRoot, rec.Path)
	if err != nil {
		return err
	}
	if err := e.checkFreeSpace(ctx, rec); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
	defer cancel()

	body, err := e.provider.GetContent(dctx, rec.RemoteID)
	if err != nil {
		return fmt.Errorf("content of %s: %w", rec.Path, err)
	}
	n, err := SafeWrite(dctx, body, dst)
	body.Close()
	if err != nil {
		return fmt.Errorf("write %s: %w", rec.Path, err)
	}
	recordDownload(n)

	hash, err := e.hasher.Hash(ctx, dst)
	if err != nil {
		return err
	}
	if err := e.store.SetLocalCopy(rec.Path, hash, nowFunc().UnixNano()); err != nil {
		return err
	}
	// Remote content may have changed size since discovery.
	if rec.Size == nil || *rec.Size != n {
		if err := e.store.SetSize(rec.Path, n); err != nil {
			return err
		}
	}

	if rec.CloudHash != "" && !strings.EqualFold(rec.CloudHash, hash) {
		l.Warn("downloaded content differs from cloud hash", "path", rec.Path,
			"cloud", rec.CloudHash, "local", hash)
	}
	if logEnabled(slog.LevelDebug) {
		l.Debug("downloaded", "path", rec.Path, "bytes", n, "hash", hash)
	}
	return nil
}

// checkFreeSpace refuses a download that would leave less than MinFreeBytes
// on the mirror's filesystem.
func (e *SyncEngine) checkFreeSpace(ctx context.Context, rec IndexRecord) error {
	if e.cfg.MinFreeBytes == 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, e.cfg.LocalRoot)
	if err != nil {
		return localErr("statfs", e.cfg.LocalRoot, err)
	}
	var need uint64
	if rec.Size != nil && *rec.Size > 0 {
		need = uint64(*rec.Size)
	}
	if usage.Free < need+e.cfg.MinFreeBytes {
		return localErr("space", rec.Path, fmt.Errorf("free %s, need %s plus reserve %s",
			humanize.IBytes(usage.Free), humanize.IBytes(need), humanize.IBytes(e.cfg.MinFreeBytes)))
	}
	return nil
}
