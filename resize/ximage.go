package resize

import (
	"context"
	"image"

	"golang.org/x/image/draw"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
)

// XImage is a pure-Go core.Resizer backed by golang.org/x/image/draw.
// It exists for the vips engine, not the default one: libvips has no
// GIF codec, so a GIF always decodes through the stdlib codec into a
// pixel.Std even when resizer=vips, and Hybrid needs a Resizer for that
// case that isn't disintegration/imaging (the default engine's own
// primary resizer, reserved for resizer=imaging).
type XImage struct{}

// NewXImage builds an XImage resizer.
func NewXImage() XImage { return XImage{} }

func (XImage) Resize(ctx context.Context, img core.Image, params core.ResizeParams) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "resize.ximage", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "resize.ximage", apperrors.ErrUnsupportedKind)
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfigInvalid, "resize.ximage", apperrors.ErrInvalidDimensions)
	}
	src := std.Unwrap()
	dst := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	xImageScaler(params.Filter).Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return pixel.From(dst), nil
}

// xImageScaler maps a core.FilterKind onto the nearest draw.Scaler;
// golang.org/x/image/draw only ships four kernels, coarser than
// disintegration/imaging's five, which is acceptable for a fallback
// path that only ever handles GIF under the vips engine.
func xImageScaler(f core.FilterKind) draw.Scaler {
	switch f {
	case core.FilterNearest:
		return draw.NearestNeighbor
	case core.FilterTriangle, "":
		return draw.ApproxBiLinear
	case core.FilterGaussian:
		return draw.BiLinear
	case core.FilterCatmullRom, core.FilterLanczos3:
		return draw.CatmullRom
	default:
		return draw.CatmullRom
	}
}

var _ core.Resizer = XImage{}
