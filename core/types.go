// Package core holds the data model and interface contracts shared by
// every subsystem of the image server: kinds, variants, bucket
// configuration shapes, and the Codec/Resizer/Storage/Cache contracts
// that concrete adapters satisfy.
package core

import "fmt"

// Kind is a closed enumeration of supported image encodings.
type Kind string

const (
	KindPNG     Kind = "png"
	KindJPEG    Kind = "jpeg"
	KindWebP    Kind = "webp"
	KindGIF     Kind = "gif"
	KindUnknown Kind = ""
)

// AllKinds lists every declared Kind in a stable order, used for
// cross-product iteration (e.g. AOT upload fan-out, delete enumeration).
var AllKinds = []Kind{KindPNG, KindJPEG, KindWebP, KindGIF}

// Valid reports whether k is one of the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPNG, KindJPEG, KindWebP, KindGIF:
		return true
	}
	return false
}

// ContentType returns the "image/<ext>" MIME type for k.
func (k Kind) ContentType() string {
	return "image/" + k.Extension()
}

// Extension returns the file-extension string for k.
func (k Kind) Extension() string {
	switch k {
	case KindPNG:
		return "png"
	case KindJPEG:
		return "jpeg"
	case KindWebP:
		return "webp"
	case KindGIF:
		return "gif"
	default:
		return "bin"
	}
}

// KindFromContentType maps a MIME type or bare token (e.g. "image/png" or
// "png") to a Kind. Returns (KindUnknown, false) if unrecognised.
func KindFromContentType(s string) (Kind, bool) {
	switch s {
	case "image/png", "png":
		return KindPNG, true
	case "image/jpeg", "image/jpg", "jpeg", "jpg":
		return KindJPEG, true
	case "image/webp", "webp":
		return KindWebP, true
	case "image/gif", "gif":
		return KindGIF, true
	default:
		return KindUnknown, false
	}
}

// FilterKind is the resampling algorithm used by the Resizer.
type FilterKind string

const (
	FilterNearest    FilterKind = "nearest"
	FilterTriangle   FilterKind = "triangle"
	FilterCatmullRom FilterKind = "catmull_rom"
	FilterGaussian   FilterKind = "gaussian"
	FilterLanczos3   FilterKind = "lanczos3"
)

// PresetID is a sizing identifier within a bucket. 0 means "original,
// unresized"; any other value is the CRC-32 of a preset name (or, in
// realtime mode, of a caller-supplied (width, height) pair).
type PresetID uint32

// OriginalPresetID is the reserved id meaning "no resize".
const OriginalPresetID PresetID = 0

// BucketID is the CRC-32 of a bucket's UTF-8 name.
type BucketID uint32

// VariantKey is the 4-tuple that globally and uniquely identifies a
// persisted artifact: (bucket, image, preset, kind).
type VariantKey struct {
	Bucket BucketID
	Image  [16]byte // UUIDv4, raw bytes so core does not import google/uuid
	Preset PresetID
	Kind   Kind
}

// CacheKey renders a VariantKey as a textual cache key:
// "{bucket}:{preset}:{image}:{kind_ext}".
func (k VariantKey) CacheKey(imageString string) string {
	return fmt.Sprintf("%d:%d:%s:%s", k.Bucket, k.Preset, imageString, k.Kind.Extension())
}

// ResizeParams describes a target size and filter for a resize.
type ResizeParams struct {
	Width, Height int
	Filter        FilterKind
}

// EncodeParams carries WebP tuning; other kinds ignore it.
type EncodeParams struct {
	Quality     int // 0-100; ignored when Lossless is set for webp
	Lossless    bool
	Method      int // 0-6, libwebp compression effort
	Threaded    bool
}

// EncodedVariant is a single encoded artifact produced by the codec or
// fan-out layer, not yet assigned a preset id.
type EncodedVariant struct {
	Kind  Kind
	Bytes []byte
}

// StoreEntry is a fully addressed artifact ready for persistence or for
// return to the caller: (preset id, kind, bytes).
type StoreEntry struct {
	Preset PresetID
	Kind   Kind
	Bytes  []byte
}
