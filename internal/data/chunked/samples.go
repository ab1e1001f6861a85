package chunked

import (
	"fmt"
	"math"

	"github.com/slide-tiles/server/internal/decoder"
)

// cropPlane converts a raw little-endian plane buffer into a typed Plane,
// cropped to the (x, y, w, h) region. spp is samples per pixel (3 for
// interleaved color-native planes, 1 otherwise).
func cropPlane(raw []byte, kind decoder.SampleKind, levelW, levelH, spp, x, y, w, h int) (*decoder.Plane, error) {
	bytesPer := kind.Bits() / 8
	want := levelW * levelH * spp * bytesPer
	if len(raw) != want {
		return nil, fmt.Errorf("chunked: plane has %d bytes, expected %d for %dx%d %s",
			len(raw), want, levelW, levelH, kind)
	}

	p := &decoder.Plane{Width: w, Height: h, Kind: kind}
	n := w * h * spp

	switch kind {
	case decoder.Uint8:
		p.U8 = make([]uint8, n)
		for row := 0; row < h; row++ {
			srcOff := ((y+row)*levelW + x) * spp
			copy(p.U8[row*w*spp:(row+1)*w*spp], raw[srcOff:srcOff+w*spp])
		}
	case decoder.Uint16:
		p.U16 = make([]uint16, n)
		for row := 0; row < h; row++ {
			srcOff := (((y+row)*levelW + x) * spp) * 2
			dst := p.U16[row*w*spp : (row+1)*w*spp]
			for i := range dst {
				off := srcOff + i*2
				dst[i] = uint16(raw[off]) | uint16(raw[off+1])<<8
			}
		}
	case decoder.Float32:
		p.F32 = make([]float32, n)
		for row := 0; row < h; row++ {
			srcOff := (((y+row)*levelW + x) * spp) * 4
			dst := p.F32[row*w*spp : (row+1)*w*spp]
			for i := range dst {
				off := srcOff + i*4
				bits := uint32(raw[off]) | uint32(raw[off+1])<<8 |
					uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
				dst[i] = math.Float32frombits(bits)
			}
		}
	default:
		return nil, fmt.Errorf("chunked: unsupported sample kind %s", kind)
	}
	return p, nil
}
