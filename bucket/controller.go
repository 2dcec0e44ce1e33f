// Package bucket implements the bucket controller and bucket
// registry: the public operation surface
// (upload/fetch/delete) tying configuration, concurrency permits,
// cache, storage, and the processing pipeline together.
package bucket

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelic/imageserver/config"
	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/hooks"
	"github.com/kestrelic/imageserver/pipeline"
	"github.com/kestrelic/imageserver/workerpool"
)

// UploadInfo is the response shape of a successful Upload, matching
// the per-variant sizing ids.
type UploadInfo struct {
	ImageID        uuid.UUID
	BucketID       core.BucketID
	Checksum       uint32
	ProcessingTime time.Duration
	Variants       []VariantInfo
}

// VariantInfo names one persisted variant's sizing id.
type VariantInfo struct {
	SizingID core.PresetID
}

// Controller is the per-bucket operation surface. Constructed once
// at startup and never mutated afterward.
type Controller struct {
	bucketID core.BucketID
	cfg      *config.BucketConfig
	pipeline *pipeline.Pipeline
	storage  core.Storage
	cache    core.Cache // nil if caching is disabled for this bucket
	permits  permits
	pool     *workerpool.Pool
	logger   core.Logger
	metrics  core.MetricsCollector
}

// Option configures optional Controller fields.
type Option func(*Controller)

// WithCache attaches a variant cache to the controller.
func WithCache(c core.Cache) Option { return func(ctl *Controller) { ctl.cache = c } }

// WithGlobalPermit attaches the process-wide concurrency semaphore,
// shared across every bucket's controller. Takes precedence over a
// local permit when both are set.
func WithGlobalPermit(sem *semaphore.Weighted) Option {
	return func(ctl *Controller) { ctl.permits.global = sem }
}

// WithLocalPermit attaches this bucket's own concurrency semaphore.
func WithLocalPermit(sem *semaphore.Weighted) Option {
	return func(ctl *Controller) { ctl.permits.local = sem }
}

// New builds a Controller for one bucket.
func New(cfg *config.BucketConfig, pl *pipeline.Pipeline, store core.Storage, pool *workerpool.Pool, logger core.Logger, metrics core.MetricsCollector, opts ...Option) *Controller {
	if logger == nil {
		logger = hooks.NoopLogger{}
	}
	ctl := &Controller{
		bucketID: cfg.BucketID(),
		cfg:      cfg,
		pipeline: pl,
		storage:  store,
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
	}
	for _, o := range opts {
		o(ctl)
	}
	return ctl
}

// MaxUploadBytes returns this bucket's own upload size cap in bytes, or
// 0 if the bucket carries no cap of its own (only the global one applies).
func (ctl *Controller) MaxUploadBytes() int64 {
	return int64(ctl.cfg.MaxUploadSizeKB) * 1024
}

// Upload stores a new image and its derived variants.
func (ctl *Controller) Upload(ctx context.Context, sourceKind core.Kind, data []byte) (*UploadInfo, error) {
	release, err := ctl.permits.acquireOne(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryLimitExceeded, "bucket.upload", err)
	}
	defer release()

	start := time.Now()
	checksum := crc32.ChecksumIEEE(data)

	result, err := workerpool.Run(ctx, ctl.pool, func() (*pipeline.UploadResult, error) {
		return ctl.pipeline.OnUpload(ctx, sourceKind, data)
	})
	if err != nil {
		ctl.metrics.RecordError("upload", string(apperrors.CategoryOf(err)))
		ctl.logger.Error("upload failed", "bucket", ctl.bucketID, "kind", string(sourceKind), "error", err.Error())
		return nil, err
	}

	imageID := uuid.New()
	variants := make([]VariantInfo, 0, len(result.ToStore))
	for _, entry := range result.ToStore {
		key := core.VariantKey{Bucket: ctl.bucketID, Image: imageID, Preset: entry.Preset, Kind: entry.Kind}
		if err := ctl.storage.Store(ctx, key, entry.Bytes); err != nil {
			ctl.metrics.RecordError("upload.store", string(apperrors.CategoryOf(err)))
			return nil, err
		}
		if ctl.cache != nil {
			ctl.cache.Insert(key.CacheKey(imageID.String()), entry.Bytes)
		}
		variants = append(variants, VariantInfo{SizingID: entry.Preset})
	}

	elapsed := time.Since(start)
	ctl.metrics.RecordOperation("upload", elapsed)
	ctl.metrics.RecordBytes("upload", int64(len(data)))
	ctl.logger.Info("upload stored", "bucket", ctl.bucketID, "image", imageID, "variants", len(variants), "elapsed", elapsed)

	return &UploadInfo{
		ImageID:        imageID,
		BucketID:       ctl.bucketID,
		Checksum:       checksum,
		ProcessingTime: elapsed,
		Variants:       variants,
	}, nil
}

// FetchRequest carries a fetch's raw query/header inputs. The serving
// kind is left unresolved (Format may be empty) — the controller resolves it per
// config.BucketConfig.ResolveServingFormat so the explicit→Accept→
// default→first-enabled priority order lives in one place.
type FetchRequest struct {
	ImageID      uuid.UUID
	Format       core.Kind // explicit "format" query param, if any
	Accept       string    // raw Accept header, if any
	PresetName   string    // "" means unresolved/default
	CustomWidth  int
	CustomHeight int
	HasCustom    bool
}

// Fetch resolves and returns one variant, transforming or persisting it
// as the bucket's processing mode requires.
func (ctl *Controller) Fetch(ctx context.Context, req FetchRequest) (*core.StoreEntry, bool, error) {
	release, err := ctl.permits.acquireOne(ctx)
	if err != nil {
		return nil, false, apperrors.New(apperrors.CategoryLimitExceeded, "bucket.fetch", err)
	}
	defer release()

	start := time.Now()

	if req.HasCustom && ctl.cfg.Mode != config.ModeRealtime {
		return nil, false, apperrors.New(apperrors.CategoryInput, "bucket.fetch", apperrors.ErrCustomSizingNotRealtime)
	}

	presetID, err := ctl.resolvePreset(req)
	if err != nil {
		return nil, false, err
	}

	desiredKind := ctl.cfg.ResolveServingFormat(req.Format, req.Accept)

	initialKind := desiredKind
	if ctl.cfg.Mode == config.ModeRealtime {
		initialKind = ctl.cfg.Formats.OriginalStoreFormat
	}

	entry, found, err := ctl.fetchThroughCache(ctx, req.ImageID, initialKind, presetID)
	if err != nil {
		return nil, false, err
	}
	// exactHit means the very first lookup, at the caller's own desired
	// (kind, preset), was satisfied directly — as opposed to falling
	// back to the stored original below. Only meaningful for jit: a jit
	// fetch that already persisted exactly this variant (a prior fetch,
	// or an upload that happened to store it) can return it unchanged
	// instead of re-decoding and re-encoding bytes it already has.
	exactHit := found && ctl.cfg.Mode == config.ModeJIT

	if !found && ctl.cfg.Mode != config.ModeAOT {
		// The requested (preset, kind) isn't already persisted: fall back
		// to the stored original and let the transform below resize/encode
		// it to what was actually requested. presetID is deliberately left
		// untouched so the caller's preset (or custom size, below) still
		// drives the resize — only the source bytes being transformed come
		// from preset_id=0.
		entry, found, err = ctl.fetchThroughCache(ctx, req.ImageID, ctl.cfg.Formats.OriginalStoreFormat, core.OriginalPresetID)
		if err != nil {
			return nil, false, err
		}
		initialKind = ctl.cfg.Formats.OriginalStoreFormat
	}

	if !found {
		ctl.metrics.RecordOperation("fetch", time.Since(start))
		return nil, false, nil
	}

	if ctl.cfg.Mode == config.ModeAOT {
		ctl.metrics.RecordOperation("fetch", time.Since(start))
		return &entry, true, nil
	}

	if exactHit {
		// The stored bytes are already exactly (desiredKind, presetID);
		// serving them as-is is what "second completes without
		// re-encoding" means for a jit bucket's cache-warm path. (req.HasCustom
		// can't be set here: it would have failed the realtime-only check above.)
		ctl.metrics.RecordOperation("fetch", time.Since(start))
		return &entry, true, nil
	}

	var custom *pipeline.CustomSize
	if req.HasCustom {
		custom = &pipeline.CustomSize{Width: req.CustomWidth, Height: req.CustomHeight}
		presetID = core.PresetID(crc32.ChecksumIEEE(customSizeKey(req.CustomWidth, req.CustomHeight)))
	}

	result, err := workerpool.Run(ctx, ctl.pool, func() (*pipeline.FetchResult, error) {
		return ctl.pipeline.OnFetch(ctx, desiredKind, initialKind, entry.Bytes, presetID, custom)
	})
	if err != nil {
		ctl.metrics.RecordError("fetch.transform", string(apperrors.CategoryOf(err)))
		ctl.logger.Error("fetch transform failed", "bucket", ctl.bucketID, "image", req.ImageID, "kind", string(desiredKind), "error", err.Error())
		return nil, false, err
	}
	ctl.logger.Debug("fetch transformed and encoded", "bucket", ctl.bucketID, "image", req.ImageID, "kind", string(desiredKind), "preset", presetID)

	for _, toStore := range result.ToStore {
		key := core.VariantKey{Bucket: ctl.bucketID, Image: req.ImageID, Preset: toStore.Preset, Kind: toStore.Kind}
		if err := ctl.storage.Store(ctx, key, toStore.Bytes); err != nil {
			return nil, false, err
		}
		if ctl.cache != nil {
			ctl.cache.Insert(key.CacheKey(req.ImageID.String()), toStore.Bytes)
		}
	}

	ctl.metrics.RecordOperation("fetch", time.Since(start))
	return &result.Response, true, nil
}

// Delete removes every stored variant of an image.
func (ctl *Controller) Delete(ctx context.Context, imageID uuid.UUID) error {
	release, err := ctl.permits.acquireOne(ctx)
	if err != nil {
		return apperrors.New(apperrors.CategoryLimitExceeded, "bucket.delete", err)
	}
	defer release()

	start := time.Now()
	purged, err := ctl.storage.Delete(ctx, ctl.bucketID, imageID)
	if err != nil {
		ctl.metrics.RecordError("delete", string(apperrors.CategoryOf(err)))
		ctl.logger.Error("delete failed", "bucket", ctl.bucketID, "image", imageID, "error", err.Error())
		return err
	}
	if ctl.cache != nil {
		for _, dv := range purged {
			key := core.VariantKey{Bucket: ctl.bucketID, Image: imageID, Preset: dv.Preset, Kind: dv.Kind}
			ctl.cache.Invalidate(key.CacheKey(imageID.String()))
		}
	}
	ctl.metrics.RecordOperation("delete", time.Since(start))
	ctl.logger.Info("delete complete", "bucket", ctl.bucketID, "image", imageID, "variants_purged", len(purged))
	return nil
}

func (ctl *Controller) resolvePreset(req FetchRequest) (core.PresetID, error) {
	name := req.PresetName
	if name == "" {
		name = ctl.cfg.DefaultServingPreset
	}
	id, ok := ctl.cfg.ResolvePresetID(name)
	if !ok {
		// unknown preset name falls back silently to "original"
		return core.OriginalPresetID, nil
	}
	return id, nil
}

// fetchThroughCache implements the cache-then-storage sequence: cache
// lookup precedes storage lookup; storage warm-up precedes cache
// write-back.
func (ctl *Controller) fetchThroughCache(ctx context.Context, imageID uuid.UUID, kind core.Kind, presetID core.PresetID) (core.StoreEntry, bool, error) {
	key := core.VariantKey{Bucket: ctl.bucketID, Image: imageID, Preset: presetID, Kind: kind}
	cacheKey := key.CacheKey(imageID.String())

	if ctl.cache != nil {
		if data, ok := ctl.cache.Get(cacheKey); ok {
			ctl.metrics.RecordCacheOutcome(true)
			return core.StoreEntry{Preset: presetID, Kind: kind, Bytes: data}, true, nil
		}
		ctl.metrics.RecordCacheOutcome(false)
	}

	data, found, err := ctl.storage.Fetch(ctx, key)
	if err != nil {
		return core.StoreEntry{}, false, err
	}
	if !found {
		return core.StoreEntry{}, false, nil
	}
	if ctl.cache != nil {
		ctl.cache.Insert(cacheKey, data)
	}
	return core.StoreEntry{Preset: presetID, Kind: kind, Bytes: data}, true, nil
}

// customSizeKey encodes (w, h) as 8 raw bytes for CRC-32 hashing, per
// custom sizing id, hashed via CRC-32 of (w, h).
func customSizeKey(w, h int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(w))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h))
	return buf
}
