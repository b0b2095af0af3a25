package sync

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test-index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func ptr[T any](v T) *T { return &v }

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

type fakeNode struct {
	id       string
	name     string
	folder   bool
	content  []byte
	hash     string // "" means the remote reports no hash
	children []string
}

// fakeProvider is an in-memory remote tree that counts calls and can be
// told to fail for specific ids.
type fakeProvider struct {
	mu    gosync.Mutex
	nodes map[string]*fakeNode // "" is the top-level root

	listCalls    map[string]int
	hashCalls    map[string]int
	contentCalls map[string]int

	listErr    map[string]error
	hashErr    map[string]error
	contentErr map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		nodes:        map[string]*fakeNode{"": {id: "", folder: true}},
		listCalls:    map[string]int{},
		hashCalls:    map[string]int{},
		contentCalls: map[string]int{},
		listErr:      map[string]error{},
		hashErr:      map[string]error{},
		contentErr:   map[string]error{},
	}
}

func (p *fakeProvider) addFolder(parentID, id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[id] = &fakeNode{id: id, name: name, folder: true}
	p.nodes[parentID].children = append(p.nodes[parentID].children, id)
}

// addFile adds a file whose hash is the SHA-1 of content, upper-cased to
// exercise case-insensitive comparison.
func (p *fakeProvider) addFile(parentID, id, name, content string) {
	p.addFileWithHash(parentID, id, name, content, fmt.Sprintf("%X", sha1.Sum([]byte(content)))) //nolint:gosec
}

func (p *fakeProvider) addFileWithHash(parentID, id, name, content, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[id] = &fakeNode{id: id, name: name, content: []byte(content), hash: hash}
	p.nodes[parentID].children = append(p.nodes[parentID].children, id)
}

func (p *fakeProvider) setContent(id, content, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[id].content = []byte(content)
	p.nodes[id].hash = hash
}

func (p *fakeProvider) totalListCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.listCalls {
		n += c
	}
	return n
}

func (p *fakeProvider) ListChildren(ctx context.Context, id string) ([]Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls[id]++
	if err := p.listErr[id]; err != nil {
		return nil, err
	}
	n, ok := p.nodes[id]
	if !ok || !n.folder {
		return nil, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	out := make([]Node, 0, len(n.children))
	for _, cid := range n.children {
		c := p.nodes[cid]
		node := Node{ID: c.id, Name: c.name, IsFolder: c.folder}
		if !c.folder {
			node.Size = ptr(int64(len(c.content)))
		}
		out = append(out, node)
	}
	return out, nil
}

func (p *fakeProvider) GetContentHash(ctx context.Context, id string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hashCalls[id]++
	if err := p.hashErr[id]; err != nil {
		return "", false, err
	}
	n, ok := p.nodes[id]
	if !ok {
		return "", false, fmt.Errorf("hash %s: %w", id, ErrNotFound)
	}
	return n.hash, n.hash != "", nil
}

func (p *fakeProvider) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentCalls[id]++
	if err := p.contentErr[id]; err != nil {
		return nil, err
	}
	n, ok := p.nodes[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

// tableHasher returns a fixed digest for known contents, used where tests
// need short readable hashes such as "aa11".
type tableHasher struct {
	digests map[string]string
}

func (tableHasher) Name() string { return "table" }

func (h tableHasher) Hash(ctx context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", localErr("read", path, err)
	}
	if d, ok := h.digests[string(b)]; ok {
		return d, nil
	}
	return sha1Hex(b), nil
}

// countingHasher is the in-process hasher with a call counter.
type countingHasher struct {
	calls atomic.Int64
}

func (*countingHasher) Name() string { return "counting" }

func (h *countingHasher) Hash(ctx context.Context, path string) (string, error) {
	h.calls.Add(1)
	return streamHasher{}.Hash(ctx, path)
}

type testEnv struct {
	store    *Store
	provider *fakeProvider
	cfg      Config
	disc     *Discoverer
	recon    *Reconciler
	engine   *SyncEngine
	diff     *DiffReporter
}

func setupEnv(t *testing.T, hasher Hasher) *testEnv {
	t.Helper()
	store := setupTestDB(t)
	p := newFakeProvider()
	cfg := Config{LocalRoot: filepath.Join(t.TempDir(), "mirror"), Workers: 3}
	if hasher == nil {
		hasher = streamHasher{}
	}
	return &testEnv{
		store:    store,
		provider: p,
		cfg:      cfg,
		disc:     NewDiscoverer(store, p, cfg),
		recon:    NewReconciler(store, p, cfg),
		engine:   NewSyncEngine(store, p, hasher, cfg),
		diff:     NewDiffReporter(store),
	}
}

func mustGet(t *testing.T, s *Store, path string) *IndexRecord {
	t.Helper()
	rec, err := s.Get(path)
	require.NoError(t, err)
	require.NotNil(t, rec, "record %s", path)
	return rec
}

// assertDownloadInvariant checks that no file has downloaded_at without a
// local hash.
func assertDownloadInvariant(t *testing.T, s *Store) {
	t.Helper()
	files, err := s.AllFiles()
	require.NoError(t, err)
	for _, f := range files {
		if f.DownloadedAt != nil {
			require.NotEmpty(t, f.LocalHash, "downloaded_at without local_hash: %s", f.Path)
		}
	}
}
