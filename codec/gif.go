package codec

import (
	"context"
	"image/gif"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
	"github.com/kestrelic/imageserver/pixel"
	"github.com/kestrelic/imageserver/utils"
)

// GIF is the core.Codec for KindGIF. Encoding only emits the first/flat
// frame — animated GIF re-encoding is out of scope for the resize and
// fan-out paths, which operate on a single pixel.Std frame.
type GIF struct {
	NumColors int // 0 = library default (256)
}

func NewGIF() GIF { return GIF{} }

func (GIF) Supports(kind core.Kind) bool { return kind == core.KindGIF }

func (GIF) Decode(ctx context.Context, data []byte, kind core.Kind) (core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "gif.decode", err)
	}
	img, err := gif.Decode(utils.BytesReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "gif.decode", err)
	}
	return pixel.From(img), nil
}

func (g GIF) Encode(ctx context.Context, img core.Image, kind core.Kind, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "gif.encode", err)
	}
	std, ok := img.(pixel.Std)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "gif.encode", apperrors.ErrUnsupportedKind)
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	opts := &gif.Options{NumColors: g.NumColors}
	if opts.NumColors <= 0 {
		opts.NumColors = 256
	}
	if err := gif.Encode(buf, std.Unwrap(), opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "gif.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

var _ core.Codec = GIF{}
