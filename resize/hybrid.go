package resize

import (
	"context"

	"github.com/kestrelic/imageserver/core"
)

// Hybrid dispatches Resize to whichever engine decoded the image.
// Vips supports JPEG/PNG/WebP only — GIF always decodes through the
// stdlib codec into a pixel.Std, even when Vips is the configured
// engine — so a registry that mixes a Vips codec with stdlib codecs
// needs a Resizer that can handle both Image representations. Hybrid
// type-switches on the decoded Image and routes to vips for *VipsImage,
// falling back to fallback (normally XImage) for everything else.
type Hybrid struct {
	vips     *Vips
	fallback core.Resizer
}

// NewHybrid builds a Resizer that routes *VipsImage through vips and
// every other core.Image through fallback.
func NewHybrid(vips *Vips, fallback core.Resizer) Hybrid {
	return Hybrid{vips: vips, fallback: fallback}
}

func (h Hybrid) Resize(ctx context.Context, img core.Image, params core.ResizeParams) (core.Image, error) {
	if _, ok := img.(*VipsImage); ok {
		return h.vips.Resize(ctx, img, params)
	}
	return h.fallback.Resize(ctx, img, params)
}

var _ core.Resizer = Hybrid{}
