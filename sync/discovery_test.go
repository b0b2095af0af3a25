package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleTree(p *fakeProvider) {
	p.addFolder("", "fa", "FolderA")
	p.addFile("fa", "f1", "file1.txt", "one")
	p.addFolder("fa", "fb", "Nested")
	p.addFile("fb", "f3", "deep.txt", "deep")
	p.addFile("", "f2", "file2.txt", "two")
}

func TestDiscover_InsertsTree(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)

	rep, err := env.disc.Discover(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Inserted)
	assert.Equal(t, 3, rep.Listed) // root, FolderA, Nested
	assert.Empty(t, rep.Failed)

	folder := mustGet(t, env.store, "FolderA")
	assert.Equal(t, KindFolder, folder.Kind)
	assert.Equal(t, "fa", folder.RemoteID)
	assert.Equal(t, "", folder.ParentPath)

	deep := mustGet(t, env.store, "FolderA/Nested/deep.txt")
	assert.Equal(t, KindFile, deep.Kind)
	assert.Equal(t, "FolderA/Nested", deep.ParentPath)
	assert.Equal(t, "deep.txt", deep.Name)
	assert.Empty(t, deep.CloudHash)
	assert.Nil(t, deep.DownloadedAt)
	require.NotNil(t, deep.Size)
	assert.Equal(t, int64(4), *deep.Size)
}

func TestDiscover_Idempotent(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	ctx := context.Background()

	_, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)
	files1, folders1, err := env.store.Counts()
	require.NoError(t, err)
	calls1 := env.provider.totalListCalls()

	rep, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Inserted)

	files2, folders2, err := env.store.Counts()
	require.NoError(t, err)
	assert.Equal(t, files1, files2)
	assert.Equal(t, folders1, folders2)

	// Only the root listing is repeated; expanded folders are not listed again.
	assert.Equal(t, calls1+1, env.provider.totalListCalls())
	assert.Equal(t, 1, env.provider.listCalls["fa"])
	assert.Equal(t, 1, env.provider.listCalls["fb"])
}

func TestDiscover_PicksUpNewRootEntries(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	ctx := context.Background()

	_, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)

	env.provider.addFolder("", "fn", "NewFolder")
	env.provider.addFile("fn", "f9", "new.txt", "new")

	rep, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	mustGet(t, env.store, "NewFolder/new.txt")
}

func TestDiscover_SubtreeFailureIsolated(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	env.provider.addFolder("", "fx", "Broken")
	env.provider.addFile("fx", "fx1", "lost.txt", "x")
	env.provider.listErr["fx"] = fmt.Errorf("boom: %w", ErrTransient)
	ctx := context.Background()

	rep, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Broken"}, rep.Failed)

	// Siblings were still discovered.
	mustGet(t, env.store, "FolderA/Nested/deep.txt")
	mustGet(t, env.store, "file2.txt")
	mustGet(t, env.store, "Broken")

	// The failed folder has no children, so the next run resumes it.
	delete(env.provider.listErr, "fx")
	rep, err = env.disc.Discover(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, 1, rep.Inserted)
	mustGet(t, env.store, "Broken/lost.txt")
}

func TestDiscover_UnauthorizedAborts(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	env.provider.listErr["fa"] = fmt.Errorf("401: %w", ErrUnauthorized)

	_, err := env.disc.Discover(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Records of the completed root listing are kept.
	mustGet(t, env.store, "FolderA")
	mustGet(t, env.store, "file2.txt")
}

func TestDiscover_RootFailure(t *testing.T) {
	env := setupEnv(t, nil)
	env.provider.listErr[""] = fmt.Errorf("503: %w", ErrTransient)

	rep, err := env.disc.Discover(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, rep.Failed)
}

func TestDiscover_FromSubRoot(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)

	_, err := env.disc.Discover(context.Background(), "fa")
	require.NoError(t, err)

	// Children of the chosen root become root-level records.
	rec := mustGet(t, env.store, "file1.txt")
	assert.Equal(t, "", rec.ParentPath)
	mustGet(t, env.store, "Nested/deep.txt")
	missing, err := env.store.Get("file2.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDiscover_SubRootKeepsIndexedPath(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	ctx := context.Background()

	_, err := env.disc.Discover(ctx, "")
	require.NoError(t, err)
	files, folders, err := env.store.Counts()
	require.NoError(t, err)

	env.provider.addFile("fa", "f7", "late.txt", "late")
	rep, err := env.disc.Discover(ctx, "fa")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)

	rec := mustGet(t, env.store, "FolderA/late.txt")
	assert.Equal(t, "FolderA", rec.ParentPath)
	for _, p := range []string{"late.txt", "file1.txt", "Nested"} {
		missing, err := env.store.Get(p)
		require.NoError(t, err)
		assert.Nil(t, missing, p)
	}

	files2, folders2, err := env.store.Counts()
	require.NoError(t, err)
	assert.Equal(t, files+1, files2)
	assert.Equal(t, folders, folders2)
}

func TestStore_FolderByRemoteID(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)
	_, err := env.disc.Discover(context.Background(), "")
	require.NoError(t, err)

	rec, err := env.store.FolderByRemoteID("fb")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "FolderA/Nested", rec.Path)

	rec, err = env.store.FolderByRemoteID("f1") // a file
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDiscover_IgnoreAndNormalization(t *testing.T) {
	env := setupEnv(t, nil)
	env.provider.addFile("", "n1", "Cafe\u0301.txt", "nfd") // decomposed
	env.provider.addFile("", "n2", "Thumbs.db", "junk")
	env.provider.addFolder("", "n3", "node_modules")
	env.provider.addFile("n3", "n4", "x.js", "x")

	cfg := env.cfg
	cfg.Ignore = ParseSyncIgnore([]string{"Thumbs.db", "node_modules/"})
	disc := NewDiscoverer(env.store, env.provider, cfg)

	rep, err := disc.Discover(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 2, rep.Ignored)
	assert.Equal(t, 0, env.provider.listCalls["n3"])

	mustGet(t, env.store, "Caf\u00e9.txt")
}

func TestDiscover_Cancelled(t *testing.T) {
	env := setupEnv(t, nil)
	buildSampleTree(env.provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.disc.Discover(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.provider.totalListCalls())
}
