package core

import "context"

// Image is the opaque decoded pixel buffer handed between Codec and
// Resizer. Only codec/resize implementations inspect the concrete type
// behind it (pixel.Std wrapping an image.Image for the stdlib engine,
// *resize.VipsImage wrapping a *vips.ImageRef for the accelerated engine).
type Image interface {
	Bounds() (width, height int)
}

// Codec decodes raw bytes of a known Kind into an Image, and encodes an
// Image back into bytes of a requested Kind. Implementations live in
// package codec; they are black boxes.
type Codec interface {
	// Decode turns data (known to be of kind) into a pixel image.
	Decode(ctx context.Context, data []byte, kind Kind) (Image, error)
	// Encode turns img into bytes of kind, honoring WebP tuning in params.
	Encode(ctx context.Context, img Image, kind Kind, params EncodeParams) ([]byte, error)
	// Supports reports whether this codec handles kind at all.
	Supports(kind Kind) bool
}

// Resizer produces a resized Image from a source Image. Pure; no I/O.
type Resizer interface {
	Resize(ctx context.Context, img Image, params ResizeParams) (Image, error)
}

// Registry maps Kind to Codec implementations, and exposes the
// configured Resizer. A bucket controller is built against one Registry.
type Registry interface {
	CodecFor(kind Kind) (Codec, bool)
	Resizer() Resizer
}

// Storage is the uniform persistence contract. Every
// concrete driver (filesystem, blob store, wide-column) satisfies it.
//
// Fetch distinguishes "absent" ((nil,false,nil)) from "failed"
// ((nil,false,err)). Delete is idempotent and returns exactly the set of
// (preset, kind) pairs that existed so the caller can invalidate a cache
// precisely. Store overwrites an existing key.
type Storage interface {
	Store(ctx context.Context, key VariantKey, data []byte) error
	Fetch(ctx context.Context, key VariantKey) (data []byte, found bool, err error)
	Delete(ctx context.Context, bucket BucketID, image [16]byte) ([]DeletedVariant, error)
}

// DeletedVariant names one variant purged by Storage.Delete.
type DeletedVariant struct {
	Preset PresetID
	Kind   Kind
}

// Cache is the process-scoped variant cache contract. All methods
// are safe for concurrent use; Get must not block writers for longer
// than it takes to update recency metadata.
type Cache interface {
	Get(key string) ([]byte, bool)
	Insert(key string, value []byte)
	Invalidate(key string)
}

// Logger is a minimal structured logging interface, implemented by an
// slog-backed adapter in package hooks.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives performance observations from bucket
// controller operations.
type MetricsCollector interface {
	RecordOperation(op string, d interface{ Seconds() float64 })
	RecordBytes(op string, bytes int64)
	RecordError(op string, category string)
	RecordCacheOutcome(hit bool)
}
