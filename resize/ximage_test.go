package resize

import (
	"context"
	"testing"

	"github.com/kestrelic/imageserver/core"
)

func TestXImageResizeProducesRequestedDimensions(t *testing.T) {
	r := NewXImage()
	out, err := r.Resize(context.Background(), solidImage(100, 100), core.ResizeParams{
		Width: 32, Height: 32, Filter: core.FilterCatmullRom,
	})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	w, h := out.Bounds()
	if w != 32 || h != 32 {
		t.Errorf("resized bounds = %dx%d, want 32x32", w, h)
	}
}

func TestXImageResizeRejectsNonPositiveDimensions(t *testing.T) {
	r := NewXImage()
	if _, err := r.Resize(context.Background(), solidImage(10, 10), core.ResizeParams{Width: 0, Height: 10}); err == nil {
		t.Error("Resize(width=0) = nil error, want error")
	}
}

func TestXImageResizeSupportsAllFilterKinds(t *testing.T) {
	r := NewXImage()
	for _, f := range []core.FilterKind{
		core.FilterNearest, core.FilterTriangle, core.FilterCatmullRom, core.FilterGaussian, core.FilterLanczos3, "",
	} {
		if _, err := r.Resize(context.Background(), solidImage(20, 20), core.ResizeParams{Width: 10, Height: 10, Filter: f}); err != nil {
			t.Errorf("Resize with filter %q: %v", f, err)
		}
	}
}

func TestXImageResizeRejectsNonStdImage(t *testing.T) {
	r := NewXImage()
	if _, err := r.Resize(context.Background(), fakeNonStdImage{}, core.ResizeParams{Width: 10, Height: 10}); err == nil {
		t.Error("Resize(non-pixel.Std image) = nil error, want error")
	}
}

type fakeNonStdImage struct{}

func (fakeNonStdImage) Bounds() (int, int) { return 1, 1 }
