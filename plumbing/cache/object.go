package cache

import (
	"container/list"
	"sync"

	"github.com/sourcegit-oss/packvault/plumbing"
)

// ObjectLRU is a size-budgeted, least-recently-used Object cache. Once
// Put would exceed MaxSize, the least recently used entries are evicted
// (including, if necessary, the entry just being added) until the new
// entry fits.
type ObjectLRU struct {
	MaxSize FileSize

	mu         sync.Mutex
	actualSize FileSize
	ll         *list.List
	cache      map[plumbing.Hash]*list.Element
}

type objectEntry struct {
	key   plumbing.Hash
	value plumbing.EncodedObject
}

// NewObjectLRU creates a new ObjectLRU cache with the given size budget.
func NewObjectLRU(maxSize FileSize) *ObjectLRU {
	return &ObjectLRU{
		MaxSize: maxSize,
		ll:      list.New(),
		cache:   make(map[plumbing.Hash]*list.Element),
	}
}

// NewObjectLRUDefault creates a new ObjectLRU cache with DefaultMaxSize.
func NewObjectLRUDefault() *ObjectLRU {
	return NewObjectLRU(DefaultMaxSize)
}

// Put adds an object to the cache, evicting older entries as needed to
// stay within MaxSize. An object larger than MaxSize is not cached.
func (c *ObjectLRU) Put(obj plumbing.EncodedObject) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := obj.Hash()
	size := FileSize(obj.Size())

	if ee, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ee)
		old := ee.Value.(*objectEntry)
		c.actualSize -= FileSize(old.value.Size())
		ee.Value = &objectEntry{key, obj}
		c.actualSize += size
	} else {
		ee := c.ll.PushFront(&objectEntry{key, obj})
		c.cache[key] = ee
		c.actualSize += size
	}

	for c.actualSize > c.MaxSize && c.ll.Len() > 0 {
		c.removeOldest()
	}
}

// Get returns the cached object for the given hash, if present, marking
// it as most recently used.
func (c *ObjectLRU) Get(k plumbing.Hash) (plumbing.EncodedObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ee, ok := c.cache[k]
	if !ok {
		return nil, false
	}

	c.ll.MoveToFront(ee)
	return ee.Value.(*objectEntry).value, true
}

// Clear empties the cache.
func (c *ObjectLRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll = list.New()
	c.cache = make(map[plumbing.Hash]*list.Element)
	c.actualSize = 0
}

func (c *ObjectLRU) removeOldest() {
	last := c.ll.Back()
	if last == nil {
		return
	}

	c.ll.Remove(last)
	entry := last.Value.(*objectEntry)
	delete(c.cache, entry.key)
	c.actualSize -= FileSize(entry.value.Size())
}
