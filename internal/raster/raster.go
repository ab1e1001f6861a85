// Package raster assembles decoded channel planes into multi-band rasters.
//
// Band buffers are shared with the source planes, never copied: a merged
// raster costs no pixel memory beyond the planes themselves. The attached
// display colors form a pseudo-color model used only for rendering; they do
// not alter sample values.
package raster

import (
	"errors"
	"fmt"

	"github.com/slide-tiles/server/internal/decoder"
)

// ErrMixedSampleKinds is returned when channel planes to be merged do not
// share a single sample type.
var ErrMixedSampleKinds = errors.New("raster: cannot merge planes with mixed sample kinds")

// Raster is a multi-band image. Exactly one of the band slices is populated,
// selected by Kind, with one buffer per band of Width*Height samples.
type Raster struct {
	Width  int
	Height int
	Kind   decoder.SampleKind

	U8  [][]uint8
	U16 [][]uint16
	F32 [][]float32

	// Interleaved is set for color-native planes whose samples are packed
	// per pixel rather than per band.
	Interleaved bool

	// Colors holds one packed RGBA display color per band. Rendering-only.
	Colors []uint32
}

// Bands returns the number of bands.
func (r *Raster) Bands() int {
	switch r.Kind {
	case decoder.Uint8:
		if r.Interleaved && len(r.U8) == 1 && r.Width*r.Height > 0 {
			return len(r.U8[0]) / (r.Width * r.Height)
		}
		return len(r.U8)
	case decoder.Uint16:
		return len(r.U16)
	case decoder.Float32:
		return len(r.F32)
	}
	return 0
}

// FromPlane wraps a single decoded plane as a raster without copying.
// Color-native planes keep their interleaved layout.
func FromPlane(p *decoder.Plane, interleaved bool, colors []uint32) *Raster {
	r := &Raster{
		Width:       p.Width,
		Height:      p.Height,
		Kind:        p.Kind,
		Interleaved: interleaved,
		Colors:      colors,
	}
	switch p.Kind {
	case decoder.Uint8:
		r.U8 = [][]uint8{p.U8}
	case decoder.Uint16:
		r.U16 = [][]uint16{p.U16}
	case decoder.Float32:
		r.F32 = [][]float32{p.F32}
	}
	return r
}

// MergePlanes builds one banded raster from per-channel planes, band i backed
// directly by planes[i]'s sample buffer. All planes must share one sample
// kind and identical dimensions. A single plane is returned as-is, wrapped
// without any re-banding. Nil entries (failed channel decodes) are skipped;
// at least one plane must be present.
func MergePlanes(planes []*decoder.Plane, colors []uint32) (*Raster, error) {
	var first *decoder.Plane
	for _, p := range planes {
		if p != nil {
			first = p
			break
		}
	}
	if first == nil {
		return nil, errors.New("raster: no planes to merge")
	}

	present := make([]*decoder.Plane, 0, len(planes))
	bandColors := make([]uint32, 0, len(planes))
	for i, p := range planes {
		if p == nil {
			continue
		}
		if p.Kind != first.Kind {
			return nil, fmt.Errorf("%w: band 0 is %s, band %d is %s",
				ErrMixedSampleKinds, first.Kind, i, p.Kind)
		}
		if p.Width != first.Width || p.Height != first.Height {
			return nil, fmt.Errorf("raster: plane %d is %dx%d, expected %dx%d",
				i, p.Width, p.Height, first.Width, first.Height)
		}
		present = append(present, p)
		if i < len(colors) {
			bandColors = append(bandColors, colors[i])
		} else {
			bandColors = append(bandColors, 0)
		}
	}

	if len(present) == 1 {
		return FromPlane(present[0], false, bandColors), nil
	}

	return bandedMerge(present, bandColors, first)
}

// MergeInterleaved packs per-channel 8-bit planes into a single interleaved
// band, pixel-major. Unlike MergePlanes this copies, and it requires every
// plane to be present: it serves color images whose channels were decoded
// separately and must come back as one packed buffer.
func MergeInterleaved(planes []*decoder.Plane, colors []uint32) (*Raster, error) {
	if len(planes) == 0 {
		return nil, errors.New("raster: no planes to merge")
	}
	first := planes[0]
	for i, p := range planes {
		if p == nil {
			return nil, fmt.Errorf("raster: interleaved merge requires all channels, channel %d missing", i)
		}
		if p.Kind != decoder.Uint8 {
			return nil, fmt.Errorf("raster: interleaved merge requires 8-bit samples, channel %d is %s", i, p.Kind)
		}
		if p.Width != first.Width || p.Height != first.Height {
			return nil, fmt.Errorf("raster: plane %d is %dx%d, expected %dx%d",
				i, p.Width, p.Height, first.Width, first.Height)
		}
	}

	n := len(planes)
	packed := make([]uint8, first.Width*first.Height*n)
	for b, p := range planes {
		for i, v := range p.U8 {
			packed[i*n+b] = v
		}
	}
	return &Raster{
		Width:       first.Width,
		Height:      first.Height,
		Kind:        decoder.Uint8,
		U8:          [][]uint8{packed},
		Interleaved: true,
		Colors:      colors,
	}, nil
}

func bandedMerge(present []*decoder.Plane, bandColors []uint32, first *decoder.Plane) (*Raster, error) {
	out := &Raster{
		Width:  first.Width,
		Height: first.Height,
		Kind:   first.Kind,
		Colors: bandColors,
	}
	switch first.Kind {
	case decoder.Uint8:
		out.U8 = make([][]uint8, len(present))
		for i, p := range present {
			out.U8[i] = p.U8
		}
	case decoder.Uint16:
		out.U16 = make([][]uint16, len(present))
		for i, p := range present {
			out.U16[i] = p.U16
		}
	case decoder.Float32:
		out.F32 = make([][]float32, len(present))
		for i, p := range present {
			out.F32[i] = p.F32
		}
	default:
		return nil, fmt.Errorf("raster: unsupported sample kind %s", first.Kind)
	}
	return out, nil
}
