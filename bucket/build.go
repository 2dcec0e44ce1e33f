package bucket

import (
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/kestrelic/imageserver/cache"
	"github.com/kestrelic/imageserver/config"
	"github.com/kestrelic/imageserver/core"
	"github.com/kestrelic/imageserver/pipeline"
	"github.com/kestrelic/imageserver/workerpool"
)

// Build constructs a Registry with one Controller per bucket declared
// in cfg, wiring each to registry, store, and pool. A single global
// semaphore (if cfg.MaxConcurrency > 0) and a single process-wide cache
// (if cfg.GlobalCache is set) are shared across all buckets. A bucket's
// own cache overrides the global one; a bucket's own max_concurrency is
// used only when no global semaphore is configured.
func Build(cfg *config.RuntimeConfig, registry core.Registry, store core.Storage, pool *workerpool.Pool, logger core.Logger, metrics core.MetricsCollector) (*Registry, error) {
	var globalPermit *semaphore.Weighted
	if cfg.MaxConcurrency > 0 {
		globalPermit = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}

	var globalCache core.Cache
	if cfg.GlobalCache != nil {
		c, err := cache.New(cache.Config{MaxImages: cfg.GlobalCache.MaxImages, MaxCapacityMB: cfg.GlobalCache.MaxCapacityMB})
		if err != nil {
			return nil, fmt.Errorf("bucket.build: global cache: %w", err)
		}
		globalCache = c
	}

	out := NewRegistry()
	for name, bcfg := range cfg.Buckets {
		fanout := pipeline.NewFanOut(registry)
		pl := pipeline.New(bcfg, registry, fanout)

		opts := []Option{}

		bucketCache := globalCache
		if bcfg.Cache != nil {
			c, err := cache.New(cache.Config{MaxImages: bcfg.Cache.MaxImages, MaxCapacityMB: bcfg.Cache.MaxCapacityMB})
			if err != nil {
				return nil, fmt.Errorf("bucket.build: bucket %q cache: %w", name, err)
			}
			bucketCache = c
		}
		if bucketCache != nil {
			opts = append(opts, WithCache(bucketCache))
		}

		if globalPermit != nil {
			opts = append(opts, WithGlobalPermit(globalPermit))
		} else if bcfg.MaxConcurrency > 0 {
			opts = append(opts, WithLocalPermit(semaphore.NewWeighted(int64(bcfg.MaxConcurrency))))
		}

		ctl := New(bcfg, pl, store, pool, logger, metrics, opts...)
		out.Add(name, ctl)
	}
	return out, nil
}
