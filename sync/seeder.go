package sync

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/samber/lo"
)

// RehashLocal re-hashes indexed files below the local root whose copy may
// differ from the recorded local hash, and stores the result. A file is
// skipped when it has a local hash, was downloaded, still has the indexed
// size and has not been modified since the download. downloaded_at is never
// touched. Local files with no index record are counted and logged only.
func (e *SyncEngine) RehashLocal(ctx context.Context) (*Report, error) {
	return e.rehash(ctx, false)
}

// RehashAllLocal re-hashes every indexed file that exists below the local
// root, regardless of size and modification time.
func (e *SyncEngine) RehashAllLocal(ctx context.Context) (*Report, error) {
	return e.rehash(ctx, true)
}

func (e *SyncEngine) rehash(ctx context.Context, all bool) (*Report, error) {
	const op = "rehash-local"
	l := sub(op)
	start := time.Now()
	defer func() { recordRun(op, time.Since(start)) }()

	local, err := ScanLocal(ctx, e.cfg.LocalRoot, e.cfg.Ignore)
	if err != nil {
		return nil, err
	}
	files, err := e.store.AllFiles()
	if err != nil {
		return nil, err
	}

	present := lo.Filter(files, func(r IndexRecord, _ int) bool {
		lf, ok := local[r.Path]
		return ok && (all || !unchangedSinceDownload(r, lf))
	})
	indexed := lo.SliceToMap(files, func(r IndexRecord) (string, struct{}) { return r.Path, struct{}{} })
	untracked := lo.OmitByKeys(local, lo.Keys(indexed))
	if len(untracked) > 0 {
		l.Info("local files without index record", "count", len(untracked))
	}
	l.Debug("rehash selection", "local", len(local), "selected", len(present), "all", all)

	return runBatch(ctx, op, present, e.cfg.Workers, e.cfg.Events, e.rehashOne)
}

// unchangedSinceDownload reports whether the local copy still looks like
// what the last download wrote.
func unchangedSinceDownload(rec IndexRecord, lf LocalFile) bool {
	if rec.LocalHash == "" || rec.DownloadedAt == nil || rec.Size == nil {
		return false
	}
	return lf.Size == *rec.Size && lf.Mtime <= *rec.DownloadedAt
}

// RehashPath re-hashes a single indexed file, used by the watcher for local
// edits. Paths without a file record are ignored.
func (e *SyncEngine) RehashPath(ctx context.Context, path string) error {
	rec, err := e.store.Get(path)
	if err != nil {
		return err
	}
	if rec == nil || !rec.IsFile() {
		return nil
	}
	dst, err := LocalPath(e.cfg.LocalRoot, rec.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	_, err = attempt(ctx, "rehash-local", path, func() error { return e.rehashOne(ctx, *rec) })
	return err
}

func (e *SyncEngine) rehashOne(ctx context.Context, rec IndexRecord) error {
	dst, err := LocalPath(e.cfg.LocalRoot, rec.Path)
	if err != nil {
		return err
	}
	hash, err := e.hasher.Hash(ctx, dst)
	if err != nil {
		return err
	}
	if hash == rec.LocalHash {
		return nil
	}
	return e.store.SetLocalHash(rec.Path, hash)
}
