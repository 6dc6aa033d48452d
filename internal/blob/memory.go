package blob

import "sync"

// memoryCache is a bounded in-process payload cache. Entries are evicted in
// insertion order once the cache is full; with few tracked files and large
// payloads a plain FIFO is good enough and keeps the bookkeeping trivial.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	order   []string
	max     int
}

func newMemoryCache(max int) *memoryCache {
	if max < 1 {
		max = 1
	}
	return &memoryCache{
		entries: make(map[string][]byte),
		max:     max,
	}
}

func (c *memoryCache) get(fileKey, commitID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[cacheKey(fileKey, commitID)]
	return data, ok
}

func (c *memoryCache) put(fileKey, commitID string, data []byte) {
	key := cacheKey(fileKey, commitID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = data
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = data
	c.order = append(c.order, key)
}

func (c *memoryCache) delete(fileKey, commitID string) {
	key := cacheKey(fileKey, commitID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *memoryCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
