// Package render turns decoded rasters into encoded tile images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/raster"
	"github.com/slide-tiles/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize        int
	DefaultColormap string
}

// TileRenderer composes multi-band rasters into RGBA images and encodes them
// as PNG. Safe for concurrent use.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	r := &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["inferno"] = colormap.Inferno
	r.colormaps["magma"] = colormap.Magma
	r.colormaps["gray"] = colormap.Gray

	return r
}

// RenderTile composes a raster and encodes it as PNG. colormapName applies
// only to single-band rasters; multi-band rasters composite with their
// channel colors and packed-color rasters pass through directly.
func (r *TileRenderer) RenderTile(rst *raster.Raster, colormapName string) ([]byte, error) {
	img, err := r.Compose(rst, colormapName)
	if err != nil {
		return nil, err
	}
	return r.EncodePNG(img)
}

// RenderScaled composes a raster and encodes it scaled to fit within
// maxSize on its longer axis. Used for associated image previews.
func (r *TileRenderer) RenderScaled(rst *raster.Raster, maxSize int, colormapName string) ([]byte, error) {
	img, err := r.Compose(rst, colormapName)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if maxSize <= 0 || (b.Dx() <= maxSize && b.Dy() <= maxSize) {
		return r.EncodePNG(img)
	}

	scale := float64(maxSize) / float64(b.Dx())
	if b.Dy() > b.Dx() {
		scale = float64(maxSize) / float64(b.Dy())
	}
	outW := int(float64(b.Dx())*scale + 0.5)
	outH := int(float64(b.Dy())*scale + 0.5)

	dc := gg.NewContext(outW, outH)
	dc.SetColor(color.White)
	dc.Clear()
	dc.Scale(scale, scale)
	dc.DrawImage(img, 0, 0)
	return r.EncodePNG(dc.Image())
}

// Compose flattens a raster into an RGBA image.
func (r *TileRenderer) Compose(rst *raster.Raster, colormapName string) (*image.RGBA, error) {
	if rst == nil || rst.Width <= 0 || rst.Height <= 0 {
		return nil, fmt.Errorf("render: empty raster")
	}

	switch {
	case rst.Interleaved:
		return composeInterleaved(rst)
	case rst.Bands() == 1:
		return r.composeSingle(rst, colormapName)
	default:
		return composeBands(rst)
	}
}

func composeInterleaved(rst *raster.Raster) (*image.RGBA, error) {
	if rst.Kind != decoder.Uint8 {
		return nil, fmt.Errorf("render: interleaved raster with %s samples", rst.Kind)
	}
	spp := rst.Bands()
	if spp < 3 {
		return nil, fmt.Errorf("render: interleaved raster with %d samples per pixel", spp)
	}
	buf := rst.U8[0]
	img := image.NewRGBA(image.Rect(0, 0, rst.Width, rst.Height))
	n := rst.Width * rst.Height
	for i := 0; i < n; i++ {
		img.Pix[i*4+0] = buf[i*spp+0]
		img.Pix[i*4+1] = buf[i*spp+1]
		img.Pix[i*4+2] = buf[i*spp+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// composeSingle maps one band through a colormap.
func (r *TileRenderer) composeSingle(rst *raster.Raster, colormapName string) (*image.RGBA, error) {
	cmap, ok := r.colormaps[colormapName]
	if !ok {
		cmap = r.colormaps[r.config.DefaultColormap]
	}

	norm, err := bandNormalizer(rst, 0)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, rst.Width, rst.Height))
	n := rst.Width * rst.Height
	for i := 0; i < n; i++ {
		c := color.RGBAModel.Convert(cmap.At(norm(i))).(color.RGBA)
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// composeBands additively blends each band tinted by its channel color, the
// usual fluorescence composite.
func composeBands(rst *raster.Raster) (*image.RGBA, error) {
	nBands := rst.Bands()
	n := rst.Width * rst.Height

	acc := make([]float64, n*3)
	for b := 0; b < nBands; b++ {
		norm, err := bandNormalizer(rst, b)
		if err != nil {
			return nil, err
		}
		cr, cg, cb := 255.0, 255.0, 255.0
		if b < len(rst.Colors) && rst.Colors[b] != 0 {
			cr = float64(raster.Red(rst.Colors[b]))
			cg = float64(raster.Green(rst.Colors[b]))
			cb = float64(raster.Blue(rst.Colors[b]))
		}
		for i := 0; i < n; i++ {
			v := norm(i)
			acc[i*3+0] += v * cr
			acc[i*3+1] += v * cg
			acc[i*3+2] += v * cb
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, rst.Width, rst.Height))
	for i := 0; i < n; i++ {
		img.Pix[i*4+0] = clamp255(acc[i*3+0])
		img.Pix[i*4+1] = clamp255(acc[i*3+1])
		img.Pix[i*4+2] = clamp255(acc[i*3+2])
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// bandNormalizer returns a function mapping sample index to [0, 1] for one
// band. Integer kinds use their full range; float bands stretch to the
// observed min and max of the tile.
func bandNormalizer(rst *raster.Raster, b int) (func(i int) float64, error) {
	switch rst.Kind {
	case decoder.Uint8:
		buf := rst.U8[b]
		return func(i int) float64 { return float64(buf[i]) / 255.0 }, nil
	case decoder.Uint16:
		buf := rst.U16[b]
		return func(i int) float64 { return float64(buf[i]) / 65535.0 }, nil
	case decoder.Float32:
		buf := rst.F32[b]
		lo, hi := buf[0], buf[0]
		for _, v := range buf {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		span := float64(hi - lo)
		if span == 0 {
			span = 1
		}
		min := float64(lo)
		return func(i int) float64 { return (float64(buf[i]) - min) / span }, nil
	}
	return nil, fmt.Errorf("render: unsupported sample kind %s", rst.Kind)
}

func clamp255(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// EncodePNG encodes an image with the fast PNG encoder and pooled buffers.
func (r *TileRenderer) EncodePNG(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates a blank tile for regions with no readable pixels.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.NRGBA{255, 255, 255, 0})
	dc.Clear()
	return r.EncodePNG(dc.Image())
}
