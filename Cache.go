package acebase

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one Node Address Cache record: the resolved address and type
// for a path, plus its position in the LRU list for O(1) touch/evict.
type cacheEntry struct {
	path      string
	address   RecordAddress
	valueType ValueType
	deleted   bool
	expiresAt time.Time
	elem      *list.Element
}

// nodeAddressCache maps paths to their last-known record address, so a
// lookup of a deep path doesn't have to walk the hierarchy from the root
// every time. Grounded on the buffer-pool LRU pattern surveyed from the
// pager reference in the wider example pack (fixed-capacity map + intrusive
// list for eviction order), combined with a TTL per SPEC_FULL.md's cache
// design. The root path ("") is never cached, matching the spec's exclusion
// rule: the root's address is always known directly from the file header.
type nodeAddressCache struct {
	mu sync.Mutex

	entries  map[string]*cacheEntry
	order    *list.List
	maxSize  int
	ttl      time.Duration
	clock    clock
}

func newNodeAddressCache(maxSize int, ttl time.Duration) *nodeAddressCache {
	return &nodeAddressCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   realClock{},
	}
}

// update records or refreshes the cached address for path.
func (c *nodeAddressCache) update(path string, addr RecordAddress, vt ValueType) {
	if path == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if e, ok := c.entries[path]; ok {
		e.address = addr
		e.valueType = vt
		e.deleted = false
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{path: path, address: addr, valueType: vt, expiresAt: now.Add(c.ttl)}
	e.elem = c.order.PushFront(path)
	c.entries[path] = e
	c.evictIfNeeded()
}

// find returns the cached address for path, if present and not expired. A
// hit extends the entry's expiry by the TTL.
func (c *nodeAddressCache) find(path string) (RecordAddress, ValueType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok || e.deleted {
		return RecordAddress{}, 0, false
	}
	now := c.clock.Now()
	if now.After(e.expiresAt) {
		c.removeLocked(e)
		return RecordAddress{}, 0, false
	}
	e.expiresAt = now.Add(c.ttl)
	c.order.MoveToFront(e.elem)
	return e.address, e.valueType, true
}

// findAncestor walks up from path looking for the closest cached ancestor
// (or path itself), returning its address, the matched path, and whether any
// ancestor was found. Used by the Node Reader to avoid a root-to-leaf file
// walk when a nearby ancestor's address is already known.
func (c *nodeAddressCache) findAncestor(path string) (string, RecordAddress, ValueType, bool) {
	for p := path; ; p = pathParent(p) {
		if addr, vt, ok := c.find(p); ok {
			return p, addr, vt, true
		}
		if p == "" {
			return "", RecordAddress{}, 0, false
		}
	}
}

// invalidate drops path and every cached descendant so the next find forces
// a fresh resolution; when markAsDeleted is true the entries are kept as
// tombstones that find treats as a miss instead of being removed. This
// resolves the spec's noted cache-invalidation bug: matching must be "path
// equals the cached entry OR path is an ancestor of the cached entry", not
// a self-comparison that can never invalidate a descendant.
func (c *nodeAddressCache) invalidate(path string, markAsDeleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cachedPath, e := range c.entries {
		if !isDescendantOrEqual(path, cachedPath) {
			continue
		}
		if markAsDeleted {
			e.deleted = true
			continue
		}
		c.removeLocked(e)
	}
}

func (c *nodeAddressCache) removeLocked(e *cacheEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.path)
}

func (c *nodeAddressCache) evictIfNeeded() {
	for c.maxSize > 0 && len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		if e, ok := c.entries[oldest.Value.(string)]; ok {
			c.removeLocked(e)
		} else {
			c.order.Remove(oldest)
		}
	}
}

// size reports the current number of cached entries.
func (c *nodeAddressCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
