package sync

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const copyChunkSize = 256 * 1024 // 256KB per chunk

// tmpSuffix marks partially written downloads. Leftovers from an
// interrupted run are overwritten by the next attempt.
const tmpSuffix = ".mirror-tmp"

// SafeWrite streams src into dst atomically:
// 1. MkdirAll the destination parent
// 2. Copy to dst.mirror-tmp in chunks (checking ctx between chunks)
// 3. Sync + atomic rename tmp → dst, replacing any existing file
//
// Returns the number of bytes written. On failure dst is left untouched.
func SafeWrite(ctx context.Context, src io.Reader, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, localErr("mkdir", filepath.Dir(dst), err)
	}

	tmpPath := safeTmpPath(dst)
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, localErr("create", tmpPath, err)
	}

	buf := make([]byte, copyChunkSize)
	var written int64
	var copyErr error
	for {
		if err := ctx.Err(); err != nil {
			copyErr = err
			break
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				copyErr = localErr("write", tmpPath, writeErr)
				break
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			copyErr = fmt.Errorf("read content: %w", readErr)
			break
		}
	}

	if copyErr == nil {
		if err := tmpFile.Sync(); err != nil {
			copyErr = localErr("sync", tmpPath, err)
		}
	}
	if err := tmpFile.Close(); err != nil && copyErr == nil {
		copyErr = localErr("close", tmpPath, err)
	}

	if copyErr != nil {
		os.Remove(tmpPath)
		return written, copyErr
	}

	// Atomic rename
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return written, localErr("rename", dst, err)
	}

	return written, nil
}

// maxNameLen is the common filesystem limit on one path component.
const maxNameLen = 255

// safeTmpPath returns the temp file used while writing dst. Names too long
// to take the suffix are replaced by a digest of the name.
func safeTmpPath(dst string) string {
	base := filepath.Base(dst)
	if len(base)+len(tmpSuffix) <= maxNameLen {
		return dst + tmpSuffix
	}
	sum := sha1.Sum([]byte(base)) //nolint:gosec
	return filepath.Join(filepath.Dir(dst), "."+hex.EncodeToString(sum[:8])+tmpSuffix)
}

// LocalPath resolves a mirrored path below root. Paths that would escape
// root are rejected.
func LocalPath(root, mirrored string) (string, error) {
	rel := filepath.FromSlash(mirrored)
	if mirrored == "" || !filepath.IsLocal(rel) {
		return "", localErr("resolve", mirrored, fmt.Errorf("path escapes mirror root"))
	}
	return filepath.Join(root, rel), nil
}
