// Package resize implements the Resizer contract.
// Imaging is the primary, always-available engine, backed by
// github.com/disintegration/imaging — a pure-Go resampler whose filter
// kernel set maps one-to-one onto core.FilterKind.
package resize

import (
	"context"

	"github.com/disintegration/imaging"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
)

// Imaging is a core.Resizer backed by disintegration/imaging.
type Imaging struct{}

func NewImaging() Imaging { return Imaging{} }

func (Imaging) Resize(ctx context.Context, img core.Image, params core.ResizeParams) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "resize", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "resize", apperrors.ErrUnsupportedKind)
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfigInvalid, "resize", apperrors.ErrInvalidDimensions)
	}
	filter, err := filterKernel(params.Filter)
	if err != nil {
		return nil, err
	}
	out := imaging.Resize(std.Unwrap(), params.Width, params.Height, filter)
	return pixel.From(out), nil
}

func filterKernel(k core.FilterKind) (imaging.ResampleFilter, error) {
	switch k {
	case core.FilterNearest:
		return imaging.NearestNeighbor, nil
	case core.FilterTriangle, "":
		return imaging.Linear, nil
	case core.FilterCatmullRom:
		return imaging.CatmullRom, nil
	case core.FilterGaussian:
		return imaging.Gaussian, nil
	case core.FilterLanczos3:
		return imaging.Lanczos, nil
	default:
		return imaging.ResampleFilter{}, apperrors.New(apperrors.CategoryConfigInvalid, "resize.filter", apperrors.ErrUnsupportedKind)
	}
}

var _ core.Resizer = Imaging{}
