package sync

import gosync "sync"

// PathCache is the visited set of one discovery run: mirrored path → remote id
// of every folder already taken off the worklist.
type PathCache struct {
	mu    gosync.RWMutex
	paths map[string]string
}

// NewPathCache creates an empty path cache.
func NewPathCache() *PathCache {
	return &PathCache{
		paths: make(map[string]string),
	}
}

// Get returns the remote id recorded for path, or ("", false).
func (c *PathCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[path]
	return id, ok
}

// Visit records path and reports whether it was newly added.
func (c *PathCache) Visit(path, remoteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.paths[path]; ok {
		return false
	}
	c.paths[path] = remoteID
	return true
}

// Len returns the number of visited paths.
func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths)
}
