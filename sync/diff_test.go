package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_Buckets(t *testing.T) {
	s := setupTestDB(t)
	seedFiles(t, s, "none", "cloud", "synced", "stale", "localonly", "file10", "file9")
	_, err := s.InsertChildren("", []IndexRecord{{Path: "dir", Name: "dir", Kind: KindFolder, RemoteID: "d"}})
	require.NoError(t, err)

	require.NoError(t, s.SetCloudHash("cloud", "aa"))
	require.NoError(t, s.SetCloudHash("synced", "BB"))
	require.NoError(t, s.SetLocalCopy("synced", "bb", 1))
	require.NoError(t, s.SetCloudHash("stale", "cc"))
	require.NoError(t, s.SetLocalCopy("stale", "dd", 1))
	require.NoError(t, s.SetLocalHash("localonly", "ee"))
	require.NoError(t, s.SetCloudHash("file10", "10"))
	require.NoError(t, s.SetCloudHash("file9", "9"))

	sum, err := NewDiffReporter(s).Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, sum.Files)
	assert.Equal(t, 1, sum.Folders)
	assert.Equal(t, 1, sum.InSync)
	assert.Equal(t, 1, sum.Stale)
	assert.Equal(t, 3, sum.CloudOnly)
	assert.Equal(t, 1, sum.LocalOnly)
	assert.Equal(t, 1, sum.Unknown)

	assert.Equal(t, []string{"stale"}, sum.StalePaths)
	assert.Equal(t, []string{"cloud", "file9", "file10"}, sum.CloudOnlyPaths)
	assert.Equal(t, []string{"localonly", "none"}, sum.MissingCloudPaths)
	assert.Equal(t, []string{"cloud", "file9", "file10", "none"}, sum.MissingLocalPaths)
}

func TestSummary_ReadOnly(t *testing.T) {
	s := setupTestDB(t)
	seedFiles(t, s, "a", "b")
	require.NoError(t, s.SetCloudHash("a", "aa"))

	before, err := s.SelectFiles(SelectAllFiles)
	require.NoError(t, err)

	_, err = NewDiffReporter(s).Summary(context.Background())
	require.NoError(t, err)

	after, err := s.SelectFiles(SelectAllFiles)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSummary_Empty(t *testing.T) {
	sum, err := NewDiffReporter(setupTestDB(t)).Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Files)
	assert.Empty(t, sum.StalePaths)
}
