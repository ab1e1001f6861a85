package chunked

import (
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/slide-tiles/server/internal/decoder"
)

// EngineOptions configures the chunk-store engine.
type EngineOptions struct {
	// MemoDir is where probe-index sidecars are written. Empty means next to
	// the store itself.
	MemoDir string

	// DisableMemoization skips reading and writing sidecars entirely.
	DisableMemoization bool
}

// Engine opens chunk-store sessions. Its Open method satisfies
// decoder.OpenFunc.
type Engine struct {
	opts EngineOptions
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{opts: opts}
}

// MemoFileSize reports the size of the probe-index sidecar for a store, or
// zero when none exists. Suitable as a pool MemoSize func.
func (e *Engine) MemoFileSize(path string) int64 {
	fi, err := os.Stat(memoPath(e.opts.MemoDir, path))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Open opens a session for a store directory. The probe pass runs on every
// open unless a valid memoized index is found; capture controls whether the
// descriptive metadata is retained on the session.
func (e *Engine) Open(path string, capture bool) (decoder.Session, error) {
	meta, err := loadStoreMeta(path)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("chunked: create zstd decoder: %w", err)
	}

	if !e.opts.DisableMemoization {
		sidecar := memoPath(e.opts.MemoDir, path)
		idx, readErr := readProbeIndex(sidecar, dec)
		if readErr != nil || idx.FormatVersion != meta.FormatVersion ||
			len(idx.Planes) != expectedPlaneCount(meta) {
			idx, err = buildProbeIndex(path, meta)
			if err != nil {
				dec.Close()
				return nil, err
			}
			// A failed sidecar write only costs the next open a re-probe.
			_ = writeProbeIndex(sidecar, idx)
		}
	} else {
		if _, err := buildProbeIndex(path, meta); err != nil {
			dec.Close()
			return nil, err
		}
	}

	s := &session{
		path:    path,
		meta:    meta,
		dec:     dec,
		capture: capture,
	}
	return s, nil
}

// session is one decoding cursor over a chunk store. Not safe for
// unsynchronized concurrent use.
type session struct {
	path    string
	meta    *storeMeta
	dec     *zstd.Decoder
	capture bool

	series int
	level  int
}

func (s *session) Path() string   { return s.path }
func (s *session) Format() string { return FormatName }

func (s *session) SeriesCount() int { return len(s.meta.Series) }

func (s *session) SetSeries(i int) error {
	if i < 0 || i >= len(s.meta.Series) {
		return fmt.Errorf("chunked: series %d out of range [0,%d)", i, len(s.meta.Series))
	}
	s.series = i
	s.level = 0
	return nil
}

func (s *session) Series() int { return s.series }

func (s *session) SeriesName(i int) string {
	if i < 0 || i >= len(s.meta.Series) {
		return ""
	}
	return s.meta.Series[i].Name
}

func (s *session) IsThumbnailSeries() bool {
	return s.meta.Series[s.series].Thumbnail
}

func (s *session) ResolutionCount() int {
	return len(s.meta.Series[s.series].Levels)
}

func (s *session) SetResolution(level int) error {
	n := len(s.meta.Series[s.series].Levels)
	if level < 0 || level >= n {
		return fmt.Errorf("chunked: resolution %d out of range [0,%d)", level, n)
	}
	s.level = level
	return nil
}

func (s *session) SizeX() int { return s.meta.Series[s.series].Levels[s.level].Width }
func (s *session) SizeY() int { return s.meta.Series[s.series].Levels[s.level].Height }
func (s *session) SizeC() int { return s.meta.Series[s.series].SizeC }
func (s *session) SizeZ() int { return s.meta.Series[s.series].SizeZ }
func (s *session) SizeT() int { return s.meta.Series[s.series].SizeT }

func (s *session) BitsPerPixel() int {
	kind, err := s.meta.Series[s.series].kind()
	if err != nil {
		return 0
	}
	return kind.Bits()
}

func (s *session) IsColorNative() bool {
	return s.meta.Series[s.series].ColorNative
}

// PlaneIndex uses the engine's native plane order: channel varies fastest,
// then z, then timepoint.
func (s *session) PlaneIndex(z, c, t int) int {
	sm := s.meta.Series[s.series]
	return t*sm.SizeZ*sm.SizeC + z*sm.SizeC + c
}

func (s *session) Metadata(series int) *decoder.Metadata {
	if !s.capture || series < 0 || series >= len(s.meta.Series) {
		return nil
	}
	sm := s.meta.Series[series]
	md := &decoder.Metadata{
		PixelWidthMicrons:  math.NaN(),
		PixelHeightMicrons: math.NaN(),
		ZSpacingMicrons:    math.NaN(),
		Magnification:      math.NaN(),
		OptimalTileWidth:   sm.TileWidth,
		OptimalTileHeight:  sm.TileHeight,
	}
	if sm.PixelSizeUM != nil {
		md.PixelWidthMicrons = sm.PixelSizeUM.X
		md.PixelHeightMicrons = sm.PixelSizeUM.Y
	}
	if sm.ZSpacingUM != nil {
		md.ZSpacingMicrons = *sm.ZSpacingUM
	}
	if sm.Magnification != nil {
		md.Magnification = *sm.Magnification
	}
	if len(sm.TimePointsS) > 0 {
		md.TimePointsSeconds = append([]float64(nil), sm.TimePointsS...)
	}
	if len(sm.Channels) > 0 {
		md.ChannelNames = make([]string, len(sm.Channels))
		md.ChannelColors = make([]uint32, len(sm.Channels))
		for i, ch := range sm.Channels {
			md.ChannelNames[i] = ch.Name
			md.ChannelColors[i] = parseColor(ch.Color)
		}
	}
	return md
}

// DecodePlane reads one plane file, decompresses it, and crops the requested
// region. Coordinates are in the active level's pixel space.
func (s *session) DecodePlane(index, x, y, w, h int) (*decoder.Plane, error) {
	sm := s.meta.Series[s.series]
	lv := sm.Levels[s.level]

	nPlanes := sm.SizeC * sm.SizeZ * sm.SizeT
	if index < 0 || index >= nPlanes {
		return nil, fmt.Errorf("chunked: plane %d out of range [0,%d)", index, nPlanes)
	}
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > lv.Width || y+h > lv.Height {
		return nil, fmt.Errorf("chunked: region %d,%d %dx%d outside level size %dx%d",
			x, y, w, h, lv.Width, lv.Height)
	}

	compressed, err := os.ReadFile(planePath(s.path, s.series, s.level, index))
	if err != nil {
		return nil, fmt.Errorf("chunked: read plane %d: %w", index, err)
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("chunked: decompress plane %d: %w", index, err)
	}

	kind, err := sm.kind()
	if err != nil {
		return nil, err
	}
	samplesPerPixel := 1
	if sm.ColorNative {
		samplesPerPixel = 3
	}
	return cropPlane(raw, kind, lv.Width, lv.Height, samplesPerPixel, x, y, w, h)
}

func (s *session) Close() error {
	if s.dec != nil {
		s.dec.Close()
		s.dec = nil
	}
	return nil
}
