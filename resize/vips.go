package resize

import (
	"context"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// VipsConfig configures the optional libvips-backed engine.
type VipsConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Vips is a unified libvips-powered Codec and Resizer, an alternative
// engine to Imaging/codec's stdlib codecs for deployments that can link
// libvips. Safe for concurrent use across goroutines. Call Shutdown when
// the process exits.
type Vips struct {
	cfg VipsConfig
}

// NewVips starts libvips and returns a ready engine.
func NewVips(cfg VipsConfig) *Vips {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Vips{cfg: cfg}
}

// Shutdown releases all libvips resources.
func (v *Vips) Shutdown() {
	govips.Shutdown()
}

func (v *Vips) Supports(kind core.Kind) bool {
	switch kind {
	case core.KindJPEG, core.KindPNG, core.KindWebP:
		return true
	}
	return false
}

func (v *Vips) Decode(ctx context.Context, data []byte, kind core.Kind) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })
	return &VipsImage{ref: ref}, nil
}

func (v *Vips) Encode(ctx context.Context, img core.Image, kind core.Kind, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	vi, ok := img.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrUnsupportedKind)
	}

	quality := params.Quality
	if quality <= 0 {
		quality = v.cfg.DefaultQuality
	}

	switch kind {
	case core.KindJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		buf, _, err := vi.ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.KindPNG:
		ep := govips.NewPngExportParams()
		buf, _, err := vi.ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.KindWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = params.Lossless
		buf, _, err := vi.ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrUnsupportedKind)
	}
}

// Resize implements core.Resizer using vips_resize with a kernel chosen
// from params.Filter. libvips has no GIF codec, so GIF variants never
// reach this method: Hybrid routes them to its fallback resizer (XImage
// in cmd/server) even when Vips is the configured engine.
func (v *Vips) Resize(ctx context.Context, img core.Image, params core.ResizeParams) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.resize", err)
	}
	vi, ok := img.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.resize", apperrors.ErrUnsupportedKind)
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfigInvalid, "vips.resize", apperrors.ErrInvalidDimensions)
	}
	w, h := vi.Bounds()
	hscale := float64(params.Width) / float64(w)
	vscale := float64(params.Height) / float64(h)
	if err := vi.ref.ResizeWithVScale(hscale, vscale, vipsKernel(params.Filter)); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.resize", err)
	}
	return vi, nil
}

func vipsKernel(f core.FilterKind) govips.Kernel {
	switch f {
	case core.FilterNearest:
		return govips.KernelNearest
	case core.FilterTriangle:
		return govips.KernelLinear
	case core.FilterCatmullRom:
		return govips.KernelCubic
	case core.FilterGaussian:
		return govips.KernelLanczos2
	case core.FilterLanczos3, "":
		return govips.KernelLanczos3
	default:
		return govips.KernelLanczos3
	}
}

// VipsImage wraps a *govips.ImageRef to satisfy core.Image.
type VipsImage struct {
	ref *govips.ImageRef
}

func (vi *VipsImage) Bounds() (width, height int) {
	return vi.ref.Width(), vi.ref.Height()
}

// Close releases the underlying libvips buffer. Callers that decode via
// Vips.Decode should Close once the encoded/resized result has been
// produced; the finalizer is a backstop, not a substitute.
func (vi *VipsImage) Close() { vi.ref.Close() }

var (
	_ core.Codec   = (*Vips)(nil)
	_ core.Resizer = (*Vips)(nil)
	_ core.Image   = (*VipsImage)(nil)
)
