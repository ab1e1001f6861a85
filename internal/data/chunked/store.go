// Package chunked implements the bundled pyramidal chunk-store decoding
// engine: a directory holding JSON metadata plus one zstd frame per plane
// and resolution level.
//
// Layout:
//
//	store/
//	  image.json                    series descriptors
//	  series_<s>/level_<l>/p<i>.zst zstd frame of raw little-endian samples
//
// Opening a store performs a probe pass over every plane file. The probe
// result is memoized to a sidecar (<store>.idx.zst) so later opens skip the
// walk; the reader pool observes the sidecar size as the engine's
// memoization footprint.
package chunked

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/raster"
)

// FormatName identifies this engine's container format.
const FormatName = "Pyramid Chunk Store"

// storeMeta mirrors image.json.
type storeMeta struct {
	FormatVersion string       `json:"format_version"`
	Series        []seriesMeta `json:"series"`
}

type seriesMeta struct {
	Name        string      `json:"name"`
	Thumbnail   bool        `json:"thumbnail"`
	ColorNative bool        `json:"color_native"`
	SampleKind  string      `json:"sample_kind"`
	SizeC       int         `json:"size_c"`
	SizeZ       int         `json:"size_z"`
	SizeT       int         `json:"size_t"`
	Levels      []levelMeta `json:"levels"`

	PixelSizeUM   *pixelSize    `json:"pixel_size_um,omitempty"`
	ZSpacingUM    *float64      `json:"z_spacing_um,omitempty"`
	Magnification *float64      `json:"magnification,omitempty"`
	TimePointsS   []float64     `json:"time_points_s,omitempty"`
	TileWidth     int           `json:"tile_width,omitempty"`
	TileHeight    int           `json:"tile_height,omitempty"`
	Channels      []channelMeta `json:"channels,omitempty"`
}

type levelMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type pixelSize struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type channelMeta struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"` // "#rrggbb" or "#rrggbbaa"
}

func (m *seriesMeta) kind() (decoder.SampleKind, error) {
	switch m.SampleKind {
	case "uint8":
		return decoder.Uint8, nil
	case "uint16":
		return decoder.Uint16, nil
	case "float32":
		return decoder.Float32, nil
	}
	return 0, fmt.Errorf("chunked: unsupported sample_kind %q", m.SampleKind)
}

func (m *seriesMeta) validate(s int) error {
	if len(m.Levels) == 0 {
		return fmt.Errorf("chunked: series %d declares no levels", s)
	}
	if m.SizeC <= 0 || m.SizeZ <= 0 || m.SizeT <= 0 {
		return fmt.Errorf("chunked: series %d has invalid plane counts c=%d z=%d t=%d",
			s, m.SizeC, m.SizeZ, m.SizeT)
	}
	for i, lv := range m.Levels {
		if lv.Width <= 0 || lv.Height <= 0 {
			return fmt.Errorf("chunked: series %d level %d has size %dx%d", s, i, lv.Width, lv.Height)
		}
	}
	if _, err := m.kind(); err != nil {
		return err
	}
	return nil
}

func loadStoreMeta(base string) (*storeMeta, error) {
	data, err := os.ReadFile(filepath.Join(base, "image.json"))
	if err != nil {
		return nil, fmt.Errorf("chunked: read image.json: %w", err)
	}
	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("chunked: parse image.json: %w", err)
	}
	if len(meta.Series) == 0 {
		return nil, fmt.Errorf("chunked: image.json declares no series")
	}
	for s := range meta.Series {
		if err := meta.Series[s].validate(s); err != nil {
			return nil, err
		}
	}
	return &meta, nil
}

// planePath returns the on-disk path of one plane file.
func planePath(base string, series, level, index int) string {
	return filepath.Join(base,
		"series_"+strconv.Itoa(series),
		"level_"+strconv.Itoa(level),
		"p"+strconv.Itoa(index)+".zst")
}

// parseColor converts a "#rrggbb" or "#rrggbbaa" string to a packed RGBA
// color, or 0 when the string is empty or malformed.
func parseColor(s string) uint32 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	if len(s) == 6 {
		return raster.PackRGB(uint8(v>>16), uint8(v>>8), uint8(v))
	}
	return raster.PackRGBA(uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v))
}
