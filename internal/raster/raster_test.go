package raster

import (
	"errors"
	"testing"

	"github.com/slide-tiles/server/internal/decoder"
)

func uint8Plane(w, h int, fill uint8) *decoder.Plane {
	buf := make([]uint8, w*h)
	for i := range buf {
		buf[i] = fill
	}
	return &decoder.Plane{Width: w, Height: h, Kind: decoder.Uint8, U8: buf}
}

func TestMergePlanes_RoundTripIdentity(t *testing.T) {
	const w, h = 16, 12
	planes := []*decoder.Plane{
		uint8Plane(w, h, 10),
		uint8Plane(w, h, 20),
		uint8Plane(w, h, 30),
	}
	colors := []uint32{PackRGB(255, 0, 0), PackRGB(0, 255, 0), PackRGB(0, 0, 255)}

	r, err := MergePlanes(planes, colors)
	if err != nil {
		t.Fatalf("MergePlanes error: %v", err)
	}
	if r.Width != w || r.Height != h {
		t.Fatalf("unexpected size: %dx%d", r.Width, r.Height)
	}
	if r.Bands() != 3 {
		t.Fatalf("expected 3 bands, got %d", r.Bands())
	}
	for b := 0; b < 3; b++ {
		for i, v := range r.U8[b] {
			want := planes[b].U8[i]
			if v != want {
				t.Fatalf("band %d sample %d: got %d want %d", b, i, v, want)
			}
		}
	}
	// Buffers must be shared, not copied.
	planes[1].U8[0] = 99
	if r.U8[1][0] != 99 {
		t.Fatal("expected band buffer to alias the source plane")
	}
}

func TestMergePlanes_MixedKindsError(t *testing.T) {
	planes := []*decoder.Plane{
		uint8Plane(4, 4, 1),
		{Width: 4, Height: 4, Kind: decoder.Uint16, U16: make([]uint16, 16)},
	}
	_, err := MergePlanes(planes, nil)
	if !errors.Is(err, ErrMixedSampleKinds) {
		t.Fatalf("expected ErrMixedSampleKinds, got %v", err)
	}
}

func TestMergePlanes_SinglePlanePassthrough(t *testing.T) {
	p := uint8Plane(8, 8, 7)
	r, err := MergePlanes([]*decoder.Plane{p}, []uint32{PackRGB(255, 255, 255)})
	if err != nil {
		t.Fatalf("MergePlanes error: %v", err)
	}
	if r.Bands() != 1 {
		t.Fatalf("expected 1 band, got %d", r.Bands())
	}
	if &r.U8[0][0] != &p.U8[0] {
		t.Fatal("expected single-plane merge to reuse the plane buffer")
	}
}

func TestMergePlanes_SkipsFailedChannels(t *testing.T) {
	planes := []*decoder.Plane{
		uint8Plane(4, 4, 1),
		nil, // failed decode
		uint8Plane(4, 4, 3),
	}
	colors := []uint32{PackRGB(255, 0, 0), PackRGB(0, 255, 0), PackRGB(0, 0, 255)}
	r, err := MergePlanes(planes, colors)
	if err != nil {
		t.Fatalf("MergePlanes error: %v", err)
	}
	if r.Bands() != 2 {
		t.Fatalf("expected 2 bands, got %d", r.Bands())
	}
	if r.Colors[1] != PackRGB(0, 0, 255) {
		t.Fatal("expected colors to track surviving bands")
	}
}

func TestScaleRGB(t *testing.T) {
	c := PackRGB(200, 100, 0)
	scaled := ScaleRGB(c, 0.85)
	if Red(scaled) != 170 || Green(scaled) != 85 || Blue(scaled) != 0 {
		t.Fatalf("unexpected scaled color: %06x", scaled&0xffffff)
	}
	if Alpha(scaled) != 255 {
		t.Fatal("alpha should be preserved")
	}
}
