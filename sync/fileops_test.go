package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeTmpPath_Short(t *testing.T) {
	result := safeTmpPath("/dir/short.txt")
	assert.Equal(t, "/dir/short.txt.mirror-tmp", result)
}

func TestSafeTmpPath_LongFilename(t *testing.T) {
	longName := strings.Repeat("a", 250) + ".pdf"
	dst := "/dir/" + longName

	result := safeTmpPath(dst)

	assert.True(t, strings.HasSuffix(result, tmpSuffix))
	assert.Equal(t, "/dir", filepath.Dir(result))
	assert.LessOrEqual(t, len(filepath.Base(result)), maxNameLen)
	assert.Equal(t, result, safeTmpPath(dst), "must be deterministic")
}

func TestSafeWrite_Basic(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst.txt")

	n, err := SafeWrite(context.Background(), strings.NewReader("hello world"), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	_, err = os.Stat(dst + tmpSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeWrite_CreatesParentDirs(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a", "b", "c", "dst.txt")

	_, err := SafeWrite(context.Background(), strings.NewReader("data"), dst)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestSafeWrite_OverwritesExisting(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old content that is longer"), 0644))

	_, err := SafeWrite(context.Background(), strings.NewReader("new"), dst)
	require.NoError(t, err)

	got, _ := os.ReadFile(dst)
	assert.Equal(t, "new", string(got))
}

func TestSafeWrite_MultiChunk(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "big.bin")
	data := bytes.Repeat([]byte{0xAB}, copyChunkSize*3+17)

	n, err := SafeWrite(context.Background(), bytes.NewReader(data), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, _ := os.ReadFile(dst)
	assert.Equal(t, data, got)
}

func TestSafeWrite_CancelledContext(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("keep"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SafeWrite(ctx, bytes.NewReader(make([]byte, copyChunkSize*3)), dst)
	assert.ErrorIs(t, err, context.Canceled)

	// tmp cleaned up, destination untouched
	_, err = os.Stat(dst + tmpSuffix)
	assert.True(t, os.IsNotExist(err))
	got, _ := os.ReadFile(dst)
	assert.Equal(t, "keep", string(got))
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), r.after)
	r.after -= n
	return n, nil
}

func TestSafeWrite_ReadErrorLeavesDestination(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("previous"), 0644))

	_, err := SafeWrite(context.Background(), &failingReader{after: 10}, dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	got, _ := os.ReadFile(dst)
	assert.Equal(t, "previous", string(got))
	_, err = os.Stat(dst + tmpSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeWrite_UnwritableParentIsLocalIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := SafeWrite(context.Background(), io.LimitReader(strings.NewReader("abc"), 3), filepath.Join(blocker, "child.txt"))
	var lerr *LocalIOError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "mkdir", lerr.Op)
}

func TestLocalPath(t *testing.T) {
	root := t.TempDir()

	p, err := LocalPath(root, "FolderA/file1.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "FolderA", "file1.txt"), p)

	for _, bad := range []string{"", "../escape.txt", "a/../../b", "/abs"} {
		_, err := LocalPath(root, bad)
		assert.Error(t, err, bad)
	}
}
