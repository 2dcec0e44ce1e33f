// Package pixel adapts the standard library's image.Image to the
// core.Image handle shared across the stdlib codec and resize engines.
package pixel

import "image"

// Std wraps a stdlib image.Image to satisfy core.Image.
type Std struct {
	image.Image
}

// Bounds implements core.Image.
func (s Std) Bounds() (width, height int) {
	b := s.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Unwrap returns the underlying image.Image for codec/resize
// implementations that need it directly.
func (s Std) Unwrap() image.Image { return s.Image }

// From wraps img as a pixel.Std.
func From(img image.Image) Std { return Std{Image: img} }
