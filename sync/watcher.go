package sync

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the local mirror for edits and feeds the mirrored paths
// of changed files into the rehash queue.
type Watcher struct {
	root    string
	ignore  *SyncIgnore
	queue   *EvalQueue
	watcher *fsnotify.Watcher
}

// NewWatcher creates a filesystem watcher for the mirror root.
func NewWatcher(root string, ignore *SyncIgnore, queue *EvalQueue) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    root,
		ignore:  ignore,
		queue:   queue,
		watcher: w,
	}, nil
}

// Start begins watching and debouncing events. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	l.Info("watching", "root", w.root)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			rel := w.toRelPath(event.Name)
			if rel == "" || strings.HasSuffix(rel, tmpSuffix) {
				continue
			}

			// New directories need their own watch; files are no-ops here.
			if event.Has(fsnotify.Create) {
				w.watcher.Add(event.Name) //nolint:errcheck
			}
			if w.ignore.IsIgnored(rel, false) {
				continue
			}

			pending[rel] = struct{}{}
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if len(pending) > 0 {
				paths := lo.Keys(pending)
				w.queue.PushMany(paths)
				l.Debug("flushed paths to queue", "count", len(paths))
				pending = make(map[string]struct{})
			}
		}
	}
}

// toRelPath converts an absolute path to its mirrored path, or "" when it
// lies outside the root.
func (w *Watcher) toRelPath(absPath string) string {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// addRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.toRelPath(path); rel != "" && w.ignore.IsIgnored(rel, true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
