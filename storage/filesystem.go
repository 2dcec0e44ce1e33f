// Package storage implements the uniform storage contract for three
// driver classes: filesystem, S3-compatible blob storage, and a
// wide-column (Scylla/Cassandra) database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// Filesystem is the core.Storage driver rooted at a directory, laid out
// {root}/{bucket_id}/{preset_id}/{image_id}.{ext}. Missing directories
// are created on first write; reads map "no such file" to (nil, false, nil).
type Filesystem struct {
	root string
}

// NewFilesystem creates a Filesystem store rooted at dir.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage/filesystem: mkdir %s: %w", dir, err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) path(key core.VariantKey) string {
	imageID := formatImageID(key.Image)
	return filepath.Join(f.root,
		strconv.FormatUint(uint64(key.Bucket), 10),
		strconv.FormatUint(uint64(key.Preset), 10),
		imageID+"."+key.Kind.Extension(),
	)
}

func (f *Filesystem) bucketDir(bucket core.BucketID) string {
	return filepath.Join(f.root, strconv.FormatUint(uint64(bucket), 10))
}

func (f *Filesystem) Store(ctx context.Context, key core.VariantKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCancelled, "storage.filesystem.store", err)
	}
	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.New(apperrors.CategoryStorageFatal, "storage.filesystem.store.mkdir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.New(apperrors.CategoryStorageTransient, "storage.filesystem.store.write", err)
	}
	return nil
}

func (f *Filesystem) Fetch(ctx context.Context, key core.VariantKey) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryCancelled, "storage.filesystem.fetch", err)
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, apperrors.New(apperrors.CategoryStorageTransient, "storage.filesystem.fetch", err)
	}
	return data, true, nil
}

func (f *Filesystem) Delete(ctx context.Context, bucket core.BucketID, image [16]byte) ([]core.DeletedVariant, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCancelled, "storage.filesystem.delete", err)
	}
	imageID := formatImageID(image)

	presetDirs, err := os.ReadDir(f.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.New(apperrors.CategoryStorageTransient, "storage.filesystem.delete.readdir", err)
	}

	var deleted []core.DeletedVariant
	for _, presetDir := range presetDirs {
		if !presetDir.IsDir() {
			continue
		}
		presetID, err := strconv.ParseUint(presetDir.Name(), 10, 32)
		if err != nil {
			continue
		}
		dir := filepath.Join(f.bucketDir(bucket), presetDir.Name())
		for _, kind := range core.AllKinds {
			path := filepath.Join(dir, imageID+"."+kind.Extension())
			if err := os.Remove(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return deleted, apperrors.New(apperrors.CategoryStorageTransient, "storage.filesystem.delete.remove", err)
			}
			deleted = append(deleted, core.DeletedVariant{Preset: core.PresetID(presetID), Kind: kind})
		}
	}
	return deleted, nil
}

func formatImageID(image [16]byte) string {
	var b strings.Builder
	b.Grow(32)
	for _, v := range image {
		fmt.Fprintf(&b, "%02x", v)
	}
	return b.String()
}

var _ core.Storage = (*Filesystem)(nil)
