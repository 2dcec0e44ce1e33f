// Package codec implements the decode/encode contract for each of the
// four supported image kinds. Each file is a black box over a single
// library: image/png and image/jpeg from the standard library,
// image/gif for animated/static GIF, and github.com/gen2brain/webp for
// WebP (the standard library has no WebP support at all, and
// golang.org/x/image/webp only decodes lossy WebP and cannot encode).
package codec

import (
	"context"
	"image/png"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
	"github.com/kestrelic/imageserver/utils"
)

// PNG is the core.Codec for KindPNG.
type PNG struct{}

func NewPNG() PNG { return PNG{} }

func (PNG) Supports(kind core.Kind) bool { return kind == core.KindPNG }

func (PNG) Decode(ctx context.Context, data []byte, kind core.Kind) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}
	img, err := png.Decode(utils.BytesReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}
	return pixel.From(img), nil
}

func (PNG) Encode(ctx context.Context, img core.Image, kind core.Kind, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.ErrUnsupportedKind)
	}
	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := enc.Encode(buf, std.Unwrap()); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

var _ core.Codec = PNG{}
