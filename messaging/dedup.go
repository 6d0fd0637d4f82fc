package messaging

import (
	"container/list"
	"sync"
)

// DefaultDedupCapacity bounds the number of remembered (sender, msg_id) pairs.
const DefaultDedupCapacity = 4096

// DedupCache remembers recently seen (sender, msg_id) pairs with LRU eviction.
type DedupCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewDedupCache creates a cache holding at most capacity pairs. A non-positive
// capacity selects DefaultDedupCapacity.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Contains reports whether the pair has been seen. It refreshes recency.
func (c *DedupCache) Contains(sender, msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[storeKey(sender, msgID)]; ok {
		c.order.MoveToFront(el)
		return true
	}
	return false
}

// Add records the pair and returns false if it was already present.
func (c *DedupCache) Add(sender, msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := storeKey(sender, msgID)
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return false
	}

	c.entries[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	return true
}

// Len returns the number of remembered pairs.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
