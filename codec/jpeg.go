package codec

import (
	"context"
	"image/jpeg"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
	"github.com/kestrelic/imageserver/utils"
)

// JPEG is the core.Codec for KindJPEG.
type JPEG struct {
	DefaultQuality int // used when EncodeParams.Quality == 0
}

func NewJPEG(defaultQuality int) JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return JPEG{DefaultQuality: defaultQuality}
}

func (JPEG) Supports(kind core.Kind) bool { return kind == core.KindJPEG }

func (JPEG) Decode(ctx context.Context, data []byte, kind core.Kind) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	img, err := jpeg.Decode(utils.BytesReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return pixel.From(img), nil
}

func (j JPEG) Encode(ctx context.Context, img core.Image, kind core.Kind, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.ErrUnsupportedKind)
	}
	quality := params.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := jpeg.Encode(buf, std.Unwrap(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

var _ core.Codec = JPEG{}
