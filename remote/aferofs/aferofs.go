// Package aferofs serves a directory tree, or any afero.Fs, as a mirror
// source. Remote ids are slash-separated paths relative to the root.
package aferofs

import (
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 matches the hash family of the other providers
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/spf13/afero"

	"github.com/ghyeongl/drivemirror/sync"
)

// Provider implements sync.Provider over an afero.Fs.
type Provider struct {
	fs afero.Fs
}

// New serves fsys as is.
func New(fsys afero.Fs) *Provider {
	return &Provider{fs: fsys}
}

// NewDir serves the OS directory root.
func NewDir(root string) *Provider {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root))
}

func fsPath(id string) string {
	return "/" + id
}

func mapError(op, id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %q: %w", op, id, sync.ErrNotFound)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s %q: %w: %v", op, id, sync.ErrUnauthorized, err)
	}
	return fmt.Errorf("%s %q: %w: %v", op, id, sync.ErrTransient, err)
}

// ListChildren lists one directory. Entries that are neither regular files
// nor directories are left out.
func (p *Provider) ListChildren(ctx context.Context, id string) ([]sync.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(p.fs, fsPath(id))
	if err != nil {
		sync.AuditRemote("fs://"+id, 0, 0)
		return nil, mapError("list", id, err)
	}
	sync.AuditRemote("fs://"+id, 200, len(infos))

	out := make([]sync.Node, 0, len(infos))
	for _, fi := range infos {
		childID := path.Join(id, fi.Name())
		switch {
		case fi.IsDir():
			out = append(out, sync.Node{ID: childID, Name: fi.Name(), IsFolder: true})
		case fi.Mode().IsRegular():
			size := fi.Size()
			out = append(out, sync.Node{ID: childID, Name: fi.Name(), Size: &size})
		}
	}
	return out, nil
}

// GetContentHash hashes the file in process. It never reports an absent
// hash.
func (p *Provider) GetContentHash(ctx context.Context, id string) (string, bool, error) {
	f, err := p.fs.Open(fsPath(id))
	if err != nil {
		return "", false, mapError("hash", id, err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, contextReader{ctx, f}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		return "", false, mapError("hash", id, err)
	}
	sync.AuditRemote("fs://"+id, 200, 1)
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// GetContent opens the file for reading.
func (p *Provider) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := p.fs.Stat(fsPath(id))
	if err != nil {
		return nil, mapError("open", id, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("open %q: is a directory: %w", id, sync.ErrNotFound)
	}
	f, err := p.fs.Open(fsPath(id))
	if err != nil {
		return nil, mapError("open", id, err)
	}
	sync.AuditRemote("fs://"+id, 200, 1)
	return f, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
