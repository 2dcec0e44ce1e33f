package storage

import (
	"context"
	"fmt"

	"github.com/kestrelic/imageserver/config"
	"github.com/kestrelic/imageserver/core"
)

// Build constructs the core.Storage driver named by cfg.Kind.
func Build(ctx context.Context, cfg config.BackendConfig) (core.Storage, error) {
	switch cfg.Kind {
	case config.BackendFilesystem:
		return NewFilesystem(cfg.Filesystem.Directory)
	case config.BackendBlobStorage:
		return NewBlobStore(ctx, BlobStoreConfig{
			Bucket:      cfg.BlobStorage.Name,
			Region:      cfg.BlobStorage.Region,
			Endpoint:    cfg.BlobStorage.Endpoint,
			StorePublic: cfg.BlobStorage.StorePublic,
		})
	case config.BackendScylla:
		return NewScylla(ScyllaConfig{
			Nodes:    cfg.Scylla.Nodes,
			Username: cfg.Scylla.Username,
			Password: cfg.Scylla.Password,
			Keyspace: cfg.Scylla.Keyspace,
			Table:    cfg.Scylla.Table,
		})
	default:
		return nil, fmt.Errorf("storage: unknown backend kind %q", cfg.Kind)
	}
}
