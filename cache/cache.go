// Package cache implements the variant cache: a
// process-scoped, thread-safe map from textual variant key to encoded
// bytes, bounded either by entry count or by an approximate byte
// weight. Exactly one bound must be configured; New fails otherwise.
package cache

import (
	"fmt"

	"github.com/kestrelic/imageserver/core"
)

const bytesPerMiB = 1 << 20

// Config selects exactly one of the two bound strategies, mirroring
// config.CacheConfig (kept as plain ints here so this package does not
// need to import config).
type Config struct {
	MaxImages     int
	MaxCapacityMB int
}

// New builds a core.Cache per cfg: count-bounded when MaxImages is set,
// weight-bounded when MaxCapacityMB is set. Exactly one must be set.
func New(cfg Config) (core.Cache, error) {
	hasCount := cfg.MaxImages > 0
	hasWeight := cfg.MaxCapacityMB > 0
	if hasCount == hasWeight {
		return nil, fmt.Errorf("cache: exactly one of MaxImages or MaxCapacityMB must be set")
	}
	if hasCount {
		return NewCountBounded(cfg.MaxImages)
	}
	return NewWeightBounded(cfg.MaxCapacityMB * bytesPerMiB), nil
}
