package store

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"
)

// localCache is the bounded on-disk cache consulted on a local-index miss
// when the store is remote-backed. It tracks recency in memory (a
// container/list LRU, same shape as the standard library's own group-cache
// patterns) and evicts the least-recently-used entry once the tracked size
// exceeds maxBytes. The local index is never consulted here: the cache only
// ever holds a copy of bytes the index already addresses.
type localCache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	curBytes int64
	order    *list.List
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key  string
	size int64
}

func newLocalCache(dir string, maxBytes int64) (*localCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &localCache{
		dir:      dir,
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}, nil
}

func (c *localCache) path(key string) string {
	return filepath.Join(c.dir, key)
}

func (c *localCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.order.MoveToFront(elem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *localCache) put(key string, data []byte) error {
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.curBytes -= elem.Value.(*cacheEntry).size
		c.order.Remove(elem)
	}
	entry := &cacheEntry{key: key, size: int64(len(data))}
	c.entries[key] = c.order.PushFront(entry)
	c.curBytes += entry.size

	for c.curBytes > c.maxBytes && c.order.Len() > 0 {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		ev := oldest.Value.(*cacheEntry)
		delete(c.entries, ev.key)
		c.curBytes -= ev.size
		_ = os.Remove(c.path(ev.key))
	}
	return nil
}
