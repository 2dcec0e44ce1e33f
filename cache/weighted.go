package cache

import (
	"container/list"
	"sync"

	"github.com/kestrelic/imageserver/core"
)

// WeightBounded is a core.Cache bounded by an approximate byte budget
// rather than an entry count. Each entry's weight is len(key)+len(value);
// eviction removes least-recently-used entries until the new entry
// fits. hashicorp/golang-lru/v2 has no weighted-eviction mode,
// so this is hand-rolled over container/list + a map, the same shape
// hashicorp's own Cache uses internally (doubly-linked list for
// recency, map for O(1) lookup) with a byte budget instead of a slot count.
type WeightBounded struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[string]*list.Element
	maxBytes   int
	usedBytes  int
}

type weightedEntry struct {
	key   string
	value []byte
}

func weight(key string, value []byte) int { return len(key) + len(value) }

// NewWeightBounded builds a WeightBounded cache with the given byte budget.
func NewWeightBounded(maxBytes int) *WeightBounded {
	return &WeightBounded{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		maxBytes: maxBytes,
	}
}

func (c *WeightBounded) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*weightedEntry).value, true
}

func (c *WeightBounded) Insert(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*weightedEntry)
		c.usedBytes -= weight(old.key, old.value)
		el.Value = &weightedEntry{key: key, value: value}
		c.usedBytes += weight(key, value)
		c.ll.MoveToFront(el)
		c.evictToFit()
		return
	}

	el := c.ll.PushFront(&weightedEntry{key: key, value: value})
	c.items[key] = el
	c.usedBytes += weight(key, value)
	c.evictToFit()
}

func (c *WeightBounded) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeElement(key)
}

// evictToFit must be called with c.mu held.
func (c *WeightBounded) evictToFit() {
	for c.usedBytes > c.maxBytes {
		back := c.ll.Back()
		if back == nil {
			return
		}
		e := back.Value.(*weightedEntry)
		c.removeElement(e.key)
	}
}

// removeElement must be called with c.mu held.
func (c *WeightBounded) removeElement(key string) {
	el, ok := c.items[key]
	if !ok {
		return
	}
	e := el.Value.(*weightedEntry)
	c.usedBytes -= weight(e.key, e.value)
	c.ll.Remove(el)
	delete(c.items, key)
}

var _ core.Cache = (*WeightBounded)(nil)
