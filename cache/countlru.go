package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrelic/imageserver/core"
)

// CountBounded is a core.Cache bounded by entry count, evicting the
// least-recently-used entry once full. Backed by
// github.com/hashicorp/golang-lru/v2, which is internally thread-safe.
type CountBounded struct {
	inner *lru.Cache[string, []byte]
}

// NewCountBounded builds a CountBounded cache holding at most maxImages
// entries.
func NewCountBounded(maxImages int) (*CountBounded, error) {
	c, err := lru.New[string, []byte](maxImages)
	if err != nil {
		return nil, err
	}
	return &CountBounded{inner: c}, nil
}

func (c *CountBounded) Get(key string) ([]byte, bool) {
	return c.inner.Get(key)
}

func (c *CountBounded) Insert(key string, value []byte) {
	c.inner.Add(key, value)
}

func (c *CountBounded) Invalidate(key string) {
	c.inner.Remove(key)
}

var _ core.Cache = (*CountBounded)(nil)
