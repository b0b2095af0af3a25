package sync

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/charlievieth/fastwalk"
)

// LocalFile is one regular file found below the mirror root.
type LocalFile struct {
	Path  string // mirrored path ("/"-separated, relative to root)
	Size  int64
	Mtime int64 // nanoseconds
}

// ScanLocal walks root and returns its regular files keyed by mirrored path.
// Partial downloads, ignored entries and unreadable entries are skipped.
// A missing root yields an empty result.
func ScanLocal(ctx context.Context, root string, ignore *SyncIgnore) (map[string]LocalFile, error) {
	l := sub("scanner")
	l.Debug("scan start", "root", root)

	var mu gosync.Mutex
	result := make(map[string]LocalFile)

	conf := fastwalk.Config{
		Follow: false,
	}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			l.Warn("scan walk error", "path", path, "err", walkErr)
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if ignore.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			l.Warn("scan stat error", "path", path, "err", err)
			return nil
		}

		mu.Lock()
		result[rel] = LocalFile{Path: rel, Size: info.Size(), Mtime: info.ModTime().UnixNano()}
		mu.Unlock()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		l.Debug("scan root missing", "root", root)
		return result, nil
	}
	if err != nil {
		return result, localErr("walk", root, err)
	}

	l.Debug("scan complete", "root", root, "files", len(result))
	return result, nil
}
