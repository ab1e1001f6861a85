package colormap

import (
	"image/color"
	"testing"
)

func TestGrayColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Gray.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{A: 255}) {
		t.Fatalf("unexpected Gray.At(0): %#v", c0)
	}

	c1, ok := Gray.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("unexpected Gray.At(1): %#v", c1)
	}
}

func TestViridisMidpointInterpolates(t *testing.T) {
	t.Parallel()

	mid, ok := Viridis.At(0.5).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0.5")
	}
	first := Viridis.At(0).(color.RGBA)
	last := Viridis.At(1).(color.RGBA)
	if mid == first || mid == last {
		t.Fatalf("midpoint should differ from endpoints, got %#v", mid)
	}
}

func TestAtIndexWraps(t *testing.T) {
	t.Parallel()

	if Gray.AtIndex(0) != Gray.AtIndex(2) {
		t.Fatal("expected AtIndex to wrap around the palette")
	}
}
