package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/raster"
)

func newTestRenderer() *TileRenderer {
	return NewTileRenderer(Config{TileSize: 64, DefaultColormap: "gray"})
}

func TestCompose_InterleavedPassthrough(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 2, Height: 1,
		Kind:        decoder.Uint8,
		U8:          [][]uint8{{10, 20, 30, 40, 50, 60}},
		Interleaved: true,
	}

	img, err := r.Compose(rst, "")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if img.Pix[0] != 10 || img.Pix[1] != 20 || img.Pix[2] != 30 || img.Pix[3] != 255 {
		t.Fatalf("pixel 0 = %v", img.Pix[:4])
	}
	if img.Pix[4] != 40 || img.Pix[5] != 50 || img.Pix[6] != 60 {
		t.Fatalf("pixel 1 = %v", img.Pix[4:8])
	}
}

func TestCompose_SingleBandGray(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 2, Height: 1,
		Kind: decoder.Uint8,
		U8:   [][]uint8{{0, 255}},
	}

	img, err := r.Compose(rst, "gray")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if img.Pix[0] != 0 || img.Pix[1] != 0 || img.Pix[2] != 0 {
		t.Fatalf("value 0 should map to black, got %v", img.Pix[:3])
	}
	if img.Pix[4] != 255 || img.Pix[5] != 255 || img.Pix[6] != 255 {
		t.Fatalf("value 255 should map to white, got %v", img.Pix[4:7])
	}
}

func TestCompose_BandsBlendAdditively(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 1, Height: 1,
		Kind: decoder.Uint8,
		U8:   [][]uint8{{255}, {255}},
		Colors: []uint32{
			raster.PackRGB(255, 0, 0),
			raster.PackRGB(0, 255, 0),
		},
	}

	img, err := r.Compose(rst, "")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	// Saturated red plus saturated green composites to yellow.
	if img.Pix[0] != 255 || img.Pix[1] != 255 || img.Pix[2] != 0 {
		t.Fatalf("composite = %v, want yellow", img.Pix[:3])
	}
}

func TestCompose_Uint16Range(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 1, Height: 1,
		Kind:   decoder.Uint16,
		U16:    [][]uint16{{65535}},
		Colors: []uint32{raster.PackRGB(0, 0, 255)},
	}

	img, err := r.Compose(rst, "gray")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if img.Pix[0] != 255 {
		t.Fatalf("full-scale uint16 should map to white, got %v", img.Pix[:3])
	}
}

func TestRenderTile_ProducesPNG(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 8, Height: 4,
		Kind: decoder.Uint8,
		U8:   [][]uint8{make([]uint8, 32)},
	}

	data, err := r.RenderTile(rst, "viridis")
	if err != nil {
		t.Fatalf("RenderTile error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Fatalf("decoded size %v", img.Bounds())
	}
}

func TestRenderScaled_FitsWithinBound(t *testing.T) {
	r := newTestRenderer()
	rst := &raster.Raster{
		Width: 100, Height: 50,
		Kind: decoder.Uint8,
		U8:   [][]uint8{make([]uint8, 5000)},
	}

	data, err := r.RenderScaled(rst, 10, "gray")
	if err != nil {
		t.Fatalf("RenderScaled error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 5 {
		t.Fatalf("scaled size %v, want 10x5", img.Bounds())
	}
}

func TestCreateEmptyTile(t *testing.T) {
	r := newTestRenderer()
	data, err := r.CreateEmptyTile()
	if err != nil {
		t.Fatalf("CreateEmptyTile error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("empty tile size %v", img.Bounds())
	}
}
