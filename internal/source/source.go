// Package source exposes pyramidal images through per-image handles.
//
// An ImageSource is one opened image: a file path, a selected series inside
// it, the resolved pyramid geometry and channel model, and read operations
// for tiles and associated (non-pyramidal) images. All decoder access is
// brokered by a pool.Manager; a source never owns a session directly.
package source

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"

	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/pool"
	"github.com/slide-tiles/server/internal/pyramid"
	"github.com/slide-tiles/server/internal/raster"
)

// Tile size hints from the decoder are clamped into this range before use.
const (
	minTileSize = 32
	maxTileSize = 4096
)

var (
	// ErrUnsupportedContainer rejects container formats the decoder would
	// otherwise misread, currently only zip archives.
	ErrUnsupportedContainer = errors.New("source: container format not supported")

	// ErrNoPrimaryImage means the file holds only associated images
	// (thumbnails, labels) and nothing servable as a pyramid.
	ErrNoPrimaryImage = errors.New("source: no primary image found")
)

// Series names that mark an image as associated rather than primary when the
// series is single-resolution. Compared case-insensitively after trimming.
var associatedNames = map[string]bool{
	"overview":  true,
	"label":     true,
	"thumbnail": true,
	"macro":     true,
}

// Default channel display palette, cycled with progressive darkening when a
// series has more channels than palette entries.
var defaultChannelColors = []uint32{
	raster.PackRGB(255, 0, 0),
	raster.PackRGB(0, 255, 0),
	raster.PackRGB(0, 0, 255),
	raster.PackRGB(255, 255, 0),
	raster.PackRGB(0, 255, 255),
	raster.PackRGB(255, 0, 255),
	raster.PackRGB(255, 255, 255),
}

const darkenPerCycle = 0.85

// Options configures how an ImageSource reads its image.
type Options struct {
	// Parallelize opts tile reads into per-worker sessions when the image
	// qualifies (see pool.ParallelismEligible).
	Parallelize bool

	// ParallelizeChannels decodes the channels of a multi-channel tile
	// concurrently on the bound session. Disabled automatically for the
	// lifetime of the source if any concurrent decode fails.
	ParallelizeChannels bool

	// VSIFixChannelZ works around CellSens VSI files that report their
	// channel count duplicated into the z dimension.
	VSIFixChannelZ bool
}

// Channel is one display channel of the selected series.
type Channel struct {
	Name  string
	Color uint32
}

// Metadata is the descriptive metadata of the selected series. Unknown
// physical quantities are NaN, not zero.
type Metadata struct {
	PixelWidthMicrons  float64
	PixelHeightMicrons float64
	ZSpacingMicrons    float64
	Magnification      float64

	// Delta-T per timepoint, in seconds. Nil when the file records none.
	TimePointsSeconds []float64

	// Preferred tile size, clamped to [32, 4096]. Zero when the decoder
	// gives no usable hint.
	TileWidth  int
	TileHeight int
}

type namedSeries struct {
	name  string
	index int
}

// ImageSource is one opened image. Safe for concurrent tile reads; Close must
// not race with in-flight reads.
type ImageSource struct {
	mgr  *pool.Manager
	opts Options

	path     string // canonical path, including ::name for multi-image files
	filePath string // underlying file on disk
	series   int
	format   string

	width, height int // full resolution
	nChannels     int
	nZ, nT        int
	bitsPerPixel  int

	// isRGB marks packed-color service: either natively interleaved RGB or
	// three separate 8-bit channels whose declared colors are exactly
	// red, green, blue.
	isRGB       bool
	colorNative bool

	// channelZConflated is set for VSI files whose z planes are really
	// channels; plane lookup then indexes channels through the z slot.
	channelZConflated bool

	geometry *pyramid.Geometry
	channels []Channel
	colors   []uint32 // packed per-channel colors, parallel to channels
	meta     Metadata

	primary    []namedSeries
	associated []namedSeries

	// Latched on the first failed concurrent channel decode.
	noParallelChannels atomic.Bool
}

// Open opens the image at path, which may carry a "::name" suffix selecting
// one image from a multi-image file. All structural metadata is resolved up
// front; failures here are fatal for the source.
func Open(mgr *pool.Manager, path string, opts Options) (*ImageSource, error) {
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return nil, fmt.Errorf("%w: zip archives must be extracted first (%s)", ErrUnsupportedContainer, path)
	}

	filePath, wantName := SplitPath(path)
	src := &ImageSource{
		mgr:      mgr,
		opts:     opts,
		path:     path,
		filePath: filePath,
	}

	h, err := mgr.AcquireShared(src, filePath)
	if err != nil {
		return nil, err
	}

	err = h.Do(func(s decoder.Session) error { return src.resolve(s, wantName) })
	if err != nil {
		mgr.Release(src)
		return nil, err
	}
	return src, nil
}

// resolve runs the full open-time walk: series classification, dimension and
// channel model capture, pyramid resolution. Called inside the shared
// handle's critical section.
func (src *ImageSource) resolve(s decoder.Session, wantName string) error {
	src.format = s.Format()

	selected, err := src.classifySeries(s, wantName)
	if err != nil {
		return err
	}
	src.series = selected

	if err := s.SetSeries(selected); err != nil {
		return fmt.Errorf("source: select series %d: %w", selected, err)
	}
	if err := s.SetResolution(0); err != nil {
		return fmt.Errorf("source: select full resolution: %w", err)
	}

	src.width = s.SizeX()
	src.height = s.SizeY()
	src.nChannels = s.SizeC()
	src.nZ = s.SizeZ()
	src.nT = s.SizeT()
	src.bitsPerPixel = s.BitsPerPixel()
	src.colorNative = s.IsColorNative()

	if src.opts.VSIFixChannelZ && src.format == pyramid.VSIFormat &&
		src.nChannels > 1 && src.nZ == src.nChannels {
		src.channelZConflated = true
		src.nZ = 1
	}

	src.isRGB = src.colorNative && src.bitsPerPixel == 8 && src.nChannels == 3

	src.buildChannels(s.Metadata(selected))
	src.captureMetadata(s.Metadata(selected))

	g, err := pyramid.Resolve(s, src.format)
	if err != nil {
		return err
	}
	src.geometry = g
	return nil
}

// classifySeries partitions the file's series into primary pyramids and
// associated images, and picks the series this source will serve. Multi-image
// files rewrite src.path to the canonical "file::name" form; a requested name
// matching no primary image falls back to the first primary found.
func (src *ImageSource) classifySeries(s decoder.Session, wantName string) (int, error) {
	count := s.SeriesCount()
	if count < 1 {
		return -1, fmt.Errorf("source: %s reports no image series", src.filePath)
	}
	if count == 1 {
		return 0, nil
	}

	selected := -1
	for i := 0; i < count; i++ {
		if err := s.SetSeries(i); err != nil {
			return -1, fmt.Errorf("source: inspect series %d: %w", i, err)
		}
		name := s.SeriesName(i)
		key := strings.ToLower(strings.TrimSpace(name))
		if s.IsThumbnailSeries() || (s.ResolutionCount() == 1 && associatedNames[key]) {
			src.associated = append(src.associated, namedSeries{name: name, index: i})
			continue
		}
		src.primary = append(src.primary, namedSeries{name: name, index: i})
		if wantName != "" && name == wantName {
			selected = i
		}
	}

	switch {
	case len(src.primary) == 0:
		return -1, fmt.Errorf("%w in %s", ErrNoPrimaryImage, src.filePath)
	case len(src.primary) == 1 && selected < 0:
		// A lone primary image the request did not name explicitly needs no
		// disambiguation.
		selected = src.primary[0].index
		src.primary = nil
		src.path = src.filePath
	default:
		if selected < 0 {
			selected = src.primary[0].index
			if wantName != "" {
				log.Printf("source: no image named %q in %s, defaulting to %q",
					wantName, src.filePath, src.primary[0].name)
			} else {
				log.Printf("source: %s holds %d images, defaulting to %q",
					src.filePath, len(src.primary), src.primary[0].name)
			}
		}
		for _, p := range src.primary {
			if p.index == selected {
				src.path = joinSubImagePath(src.filePath, p.name)
			}
		}
	}
	return selected, nil
}

// buildChannels derives the per-channel display model: names and colors from
// the file when declared, otherwise generated names and the default palette.
// Three 8-bit channels declared exactly red, green, blue promote the whole
// image to packed-color service.
func (src *ImageSource) buildChannels(md *decoder.Metadata) {
	n := src.nChannels
	if src.isRGB {
		src.channels = []Channel{
			{Name: "Red", Color: raster.PackRGB(255, 0, 0)},
			{Name: "Green", Color: raster.PackRGB(0, 255, 0)},
			{Name: "Blue", Color: raster.PackRGB(0, 0, 255)},
		}
	} else {
		src.channels = make([]Channel, n)
		for c := 0; c < n; c++ {
			ch := Channel{Name: fmt.Sprintf("Channel %d", c+1)}
			if md != nil && c < len(md.ChannelNames) && md.ChannelNames[c] != "" {
				ch.Name = md.ChannelNames[c]
			}
			if md != nil && c < len(md.ChannelColors) && md.ChannelColors[c] != 0 {
				ch.Color = md.ChannelColors[c]
			} else {
				ch.Color = paletteColor(c)
			}
			src.channels[c] = ch
		}

		if !src.colorNative && src.bitsPerPixel == 8 && n == 3 &&
			src.channels[0].Color == raster.PackRGB(255, 0, 0) &&
			src.channels[1].Color == raster.PackRGB(0, 255, 0) &&
			src.channels[2].Color == raster.PackRGB(0, 0, 255) {
			src.isRGB = true
		}
	}

	src.colors = make([]uint32, len(src.channels))
	for i, ch := range src.channels {
		src.colors[i] = ch.Color
	}
}

// paletteColor returns the default display color for channel c, darkening by
// darkenPerCycle for each full pass through the palette.
func paletteColor(c int) uint32 {
	n := len(defaultChannelColors)
	col := defaultChannelColors[c%n]
	if cycle := c / n; cycle > 0 {
		col = raster.ScaleRGB(col, math.Pow(darkenPerCycle, float64(cycle)))
	}
	return col
}

// captureMetadata copies descriptive metadata, defaulting unknowns to NaN and
// clamping the decoder's tile size hint.
func (src *ImageSource) captureMetadata(md *decoder.Metadata) {
	src.meta = Metadata{
		PixelWidthMicrons:  math.NaN(),
		PixelHeightMicrons: math.NaN(),
		ZSpacingMicrons:    math.NaN(),
		Magnification:      math.NaN(),
	}
	if md == nil {
		return
	}
	if md.PixelWidthMicrons > 0 {
		src.meta.PixelWidthMicrons = md.PixelWidthMicrons
	}
	if md.PixelHeightMicrons > 0 {
		src.meta.PixelHeightMicrons = md.PixelHeightMicrons
	}
	if md.ZSpacingMicrons > 0 {
		src.meta.ZSpacingMicrons = md.ZSpacingMicrons
	}
	if md.Magnification > 0 {
		src.meta.Magnification = md.Magnification
	}
	if len(md.TimePointsSeconds) > 0 {
		src.meta.TimePointsSeconds = append([]float64(nil), md.TimePointsSeconds...)
	}
	src.meta.TileWidth = clampTileSize(md.OptimalTileWidth)
	src.meta.TileHeight = clampTileSize(md.OptimalTileHeight)
}

func clampTileSize(v int) int {
	if v <= 0 {
		return 0
	}
	if v < minTileSize {
		return minTileSize
	}
	if v > maxTileSize {
		return maxTileSize
	}
	return v
}

// Close releases this source's claim on the shared session. The pool evicts
// the session once no other source holds the same file open.
func (src *ImageSource) Close() {
	src.mgr.Release(src)
}

// Path returns the canonical path of the image, including the "::name"
// suffix when the file holds several images.
func (src *ImageSource) Path() string { return src.path }

// FilePath returns the underlying file path without any sub-image suffix.
func (src *ImageSource) FilePath() string { return src.filePath }

// Format names the container format of the file.
func (src *ImageSource) Format() string { return src.format }

// Series returns the decoder series index this source serves.
func (src *ImageSource) Series() int { return src.series }

// Width and Height are the full-resolution dimensions in pixels.
func (src *ImageSource) Width() int  { return src.width }
func (src *ImageSource) Height() int { return src.height }

// NumChannels, NumZSlices and NumTimepoints describe the served hyperstack.
func (src *ImageSource) NumChannels() int   { return src.nChannels }
func (src *ImageSource) NumZSlices() int    { return src.nZ }
func (src *ImageSource) NumTimepoints() int { return src.nT }

// BitsPerPixel returns the per-sample bit depth.
func (src *ImageSource) BitsPerPixel() int { return src.bitsPerPixel }

// IsRGB reports whether tiles are served as packed 8-bit color.
func (src *ImageSource) IsRGB() bool { return src.isRGB }

// Geometry returns the resolved pyramid geometry. Immutable.
func (src *ImageSource) Geometry() *pyramid.Geometry { return src.geometry }

// Channels returns the display channel model.
func (src *ImageSource) Channels() []Channel { return src.channels }

// Metadata returns the captured descriptive metadata.
func (src *ImageSource) Metadata() Metadata { return src.meta }

// PrimaryImageNames lists the names of all servable pyramids in the file.
// Empty for single-image files.
func (src *ImageSource) PrimaryImageNames() []string { return seriesNames(src.primary) }

// AssociatedImageNames lists the non-pyramidal images (labels, overviews).
func (src *ImageSource) AssociatedImageNames() []string { return seriesNames(src.associated) }

// SubImagePath returns the canonical path selecting the named image within
// this source's file.
func (src *ImageSource) SubImagePath(name string) string {
	return joinSubImagePath(src.filePath, name)
}

func seriesNames(list []namedSeries) []string {
	if len(list) == 0 {
		return nil
	}
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.name
	}
	return names
}
