package cache

import (
	"container/list"
	"sync"
)

// WindowSource is implemented by a pack file reader so that the window
// cache can materialize a new mmap'd window on a miss.
type WindowSource interface {
	// Mmap maps the region [off, off+size) of the underlying pack file
	// and returns it, along with a function to unmap it.
	Mmap(off, size int64) (data []byte, unmap func() error, err error)
}

// Window is a single pinned, ref-counted mapping over a byte range of a
// pack file.
type Window struct {
	Offset int64
	Data   []byte

	unmap func() error
	refs  int
}

// release drops one reference to the window. The caller must call
// Pinned.Release exactly once for every Pinned returned by WindowCache.Get.
func (w *Window) release(c *WindowCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.refs--
}

// WindowCache is a bounded, process-wide cache of pinned pack-file mmap
// windows. Each entry is ref-counted: a pinned (refs > 0) window is
// never evicted, even if the cache is over budget; eviction only
// reclaims unpinned windows, oldest first.
type WindowCache struct {
	MaxSize FileSize

	mu         sync.Mutex
	actualSize FileSize
	ll         *list.List
	cache      map[windowKey]*list.Element
}

type windowKey struct {
	packID int64
	offset int64
}

type windowEntry struct {
	key    windowKey
	window *Window
	size   FileSize
}

// NewWindowCache creates a WindowCache with the given size budget.
func NewWindowCache(maxSize FileSize) *WindowCache {
	return &WindowCache{
		MaxSize: maxSize,
		ll:      list.New(),
		cache:   make(map[windowKey]*list.Element),
	}
}

// Pinned is a handle on a Window borrowed from the cache. Calling
// Release makes the window eligible for eviction again.
type Pinned struct {
	Window *Window

	c   *WindowCache
	key windowKey
}

// Release returns the pinned window to the cache's eviction pool.
func (p *Pinned) Release() {
	p.Window.release(p.c)
}

// Get returns a pinned window covering [offset, offset+size) of the pack
// identified by packID, materializing it via src on a miss. The returned
// Pinned must be Released by the caller.
func (c *WindowCache) Get(packID, offset, size int64, src WindowSource) (*Pinned, error) {
	key := windowKey{packID, offset}

	c.mu.Lock()
	if ee, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ee)
		entry := ee.Value.(*windowEntry)
		entry.window.refs++
		c.mu.Unlock()
		return &Pinned{Window: entry.window, c: c, key: key}, nil
	}
	c.mu.Unlock()

	data, unmap, err := src.Mmap(offset, size)
	if err != nil {
		return nil, err
	}

	w := &Window{Offset: offset, Data: data, unmap: unmap, refs: 1}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ee, ok := c.cache[key]; ok {
		// lost a race with a concurrent miss; drop ours, use theirs.
		_ = w.unmap()
		ee.Value.(*windowEntry).window.refs++
		c.ll.MoveToFront(ee)
		return &Pinned{Window: ee.Value.(*windowEntry).window, c: c, key: key}, nil
	}

	entrySize := FileSize(len(data))
	ee := c.ll.PushFront(&windowEntry{key: key, window: w, size: entrySize})
	c.cache[key] = ee
	c.actualSize += entrySize

	c.evictUnpinnedLocked()

	return &Pinned{Window: w, c: c, key: key}, nil
}

// evictUnpinnedLocked walks from the back of the LRU list, unmapping and
// removing unpinned windows until the cache is within budget or every
// remaining window is pinned. Must be called with c.mu held.
func (c *WindowCache) evictUnpinnedLocked() {
	for e := c.ll.Back(); c.actualSize > c.MaxSize && e != nil; {
		prev := e.Prev()
		entry := e.Value.(*windowEntry)
		if entry.window.refs == 0 {
			c.ll.Remove(e)
			delete(c.cache, entry.key)
			c.actualSize -= entry.size
			_ = entry.window.unmap()
		}
		e = prev
	}
}

// Clear unmaps every currently unpinned window. Pinned windows are left
// in the cache; once their last reference is released they can be
// removed by a later Clear, or by eviction when a Get finds the cache
// over budget.
func (c *WindowCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.ll.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*windowEntry)
		if entry.window.refs == 0 {
			c.ll.Remove(e)
			delete(c.cache, entry.key)
			c.actualSize -= entry.size
			_ = entry.window.unmap()
		}
		e = next
	}
}
