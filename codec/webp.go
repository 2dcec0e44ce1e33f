package codec

import (
	"context"

	"github.com/gen2brain/webp"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
	"github.com/kestrelic/imageserver/utils"
)

// WebP is the core.Codec for KindWebP, backed by github.com/gen2brain/webp
// (libwebp via a WASM runtime — no cgo). Unlike golang.org/x/image/webp
// (decode-only, lossy-only) this supports quality, lossless, and method
// tuning on encode. EncodeParams.Threaded is not used by this encoder.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return WebP{DefaultQuality: defaultQuality}
}

func (WebP) Supports(kind core.Kind) bool { return kind == core.KindWebP }

func (WebP) Decode(ctx context.Context, data []byte, kind core.Kind) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	img, err := webp.Decode(utils.BytesReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	return pixel.From(img), nil
}

func (w WebP) Encode(ctx context.Context, img core.Image, kind core.Kind, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "webp.encode", apperrors.ErrUnsupportedKind)
	}

	quality := params.Quality
	if quality <= 0 {
		quality = w.DefaultQuality
	}
	method := params.Method
	if method <= 0 {
		method = 4
	}

	opts := webp.Options{
		Lossless: params.Lossless,
		Quality:  float32(quality),
		Method:   method,
		Exact:    false,
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := webp.Encode(buf, std.Unwrap(), opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

var _ core.Codec = WebP{}
