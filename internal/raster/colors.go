package raster

// Packed RGBA color helpers. Colors are stored as 0xAARRGGBB, matching the
// channel color convention used throughout the tile layer.

// PackRGB packs an opaque color.
func PackRGB(r, g, b uint8) uint32 {
	return 0xff000000 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// PackRGBA packs a color with alpha.
func PackRGBA(r, g, b, a uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Red, Green, Blue and Alpha extract single components from a packed color.
func Red(c uint32) uint8   { return uint8(c >> 16) }
func Green(c uint32) uint8 { return uint8(c >> 8) }
func Blue(c uint32) uint8  { return uint8(c) }
func Alpha(c uint32) uint8 { return uint8(c >> 24) }

// ScaleRGB multiplies each RGB component by factor, clamping to [0, 255].
// Alpha is preserved.
func ScaleRGB(c uint32, factor float64) uint32 {
	scale := func(v uint8) uint8 {
		f := float64(v) * factor
		if f < 0 {
			return 0
		}
		if f > 255 {
			return 255
		}
		return uint8(f + 0.5)
	}
	return PackRGBA(scale(Red(c)), scale(Green(c)), scale(Blue(c)), Alpha(c))
}
