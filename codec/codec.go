package codec

import "github.com/kestrelic/imageserver/core"

// Default builds a core.Registry backed by the four stdlib/ecosystem
// codecs above and resizer. The Resizer is supplied by the caller
// (package resize) to keep codec free of an import on disintegration/imaging.
func Default(resizer core.Resizer) *core.DefaultRegistry {
	reg := core.NewRegistry(resizer)
	reg.RegisterCodec(core.KindPNG, NewPNG())
	reg.RegisterCodec(core.KindJPEG, NewJPEG(85))
	reg.RegisterCodec(core.KindGIF, NewGIF())
	reg.RegisterCodec(core.KindWebP, NewWebP(85))
	return reg
}
