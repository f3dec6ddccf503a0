package system

import (
	"sync"
)

type pathEntry struct {
	path string
	err  error
}

// PathCache memoizes executable lookups, including misses. It is owned by
// an Env rather than being process-wide so tests never share state.
type PathCache struct {
	mu      sync.RWMutex
	entries map[string]pathEntry
}

// NewPathCache creates an empty cache.
func NewPathCache() *PathCache {
	return &PathCache{
		entries: make(map[string]pathEntry),
	}
}

// Lookup returns the cached result for file, calling resolve on a miss.
func (c *PathCache) Lookup(file string, resolve func(string) (string, error)) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[file]
	c.mu.RUnlock()
	if ok {
		return e.path, e.err
	}

	path, err := resolve(file)

	c.mu.Lock()
	c.entries[file] = pathEntry{path: path, err: err}
	c.mu.Unlock()

	return path, err
}

// Forget drops file from the cache, e.g. after a package install puts a
// new binary on PATH.
func (c *PathCache) Forget(file string) {
	c.mu.Lock()
	delete(c.entries, file)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
