//go:build tiledb

package tiledbstore

import (
	"fmt"
	"math"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/slide-tiles/server/internal/decoder"
)

// Engine opens TileDB-backed sessions. Its Open method satisfies
// decoder.OpenFunc.
type Engine struct{}

// NewEngine creates a TileDB engine.
func NewEngine() *Engine { return &Engine{} }

// Supported reports whether TileDB support is compiled in.
func (e *Engine) Supported() bool { return true }

// Open opens a session for a TileDB store directory.
func (e *Engine) Open(path string, capture bool) (decoder.Session, error) {
	meta, err := loadStoreMeta(path)
	if err != nil {
		return nil, err
	}
	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: create TileDB context: %w", err)
	}
	return &session{
		path:    path,
		meta:    meta,
		ctx:     ctx,
		capture: capture,
	}, nil
}

// session is one decoding cursor over a TileDB store. Not safe for
// unsynchronized concurrent use.
type session struct {
	path    string
	meta    *storeMeta
	ctx     *tiledb.Context
	capture bool

	series int
	level  int
}

func (s *session) Path() string   { return s.path }
func (s *session) Format() string { return FormatName }

func (s *session) SeriesCount() int { return len(s.meta.Series) }

func (s *session) SetSeries(i int) error {
	if i < 0 || i >= len(s.meta.Series) {
		return fmt.Errorf("tiledbstore: series %d out of range [0,%d)", i, len(s.meta.Series))
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

func (s *session) IsThumbnailSeries() bool { return s.meta.Series[s.series].Thumbnail }

func (s *session) ResolutionCount() int { return len(s.meta.Series[s.series].Levels) }

func (s *session) SetResolution(level int) error {
	n := len(s.meta.Series[s.series].Levels)
	if level < 0 || level >= n {
		return fmt.Errorf("tiledbstore: resolution %d out of range [0,%d)", level, n)
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
	switch s.meta.Series[s.series].SampleKind {
	case "uint8":
		return 8
	case "uint16":
		return 16
	case "float32":
		return 32
	}
	return 0
}

func (s *session) IsColorNative() bool { return s.meta.Series[s.series].ColorNative }

func (s *session) PlaneIndex(z, c, t int) int {
	sm := s.meta.Series[s.series]
	return t*sm.SizeZ*sm.SizeC + z*sm.SizeC + c
}

func (s *session) Metadata(series int) *decoder.Metadata {
	if !s.capture || series < 0 || series >= len(s.meta.Series) {
		return nil
	}
	// The TileDB layout records geometry only; descriptive metadata is
	// reported unknown.
	return &decoder.Metadata{
		PixelWidthMicrons:  math.NaN(),
		PixelHeightMicrons: math.NaN(),
		ZSpacingMicrons:    math.NaN(),
		Magnification:      math.NaN(),
	}
}

// DecodePlane reads the (x, y, w, h) region of one plane from the level's
// dense array.
func (s *session) DecodePlane(index, x, y, w, h int) (*decoder.Plane, error) {
	sm := s.meta.Series[s.series]
	lv := sm.Levels[s.level]

	nPlanes := sm.SizeC * sm.SizeZ * sm.SizeT
	if index < 0 || index >= nPlanes {
		return nil, fmt.Errorf("tiledbstore: plane %d out of range [0,%d)", index, nPlanes)
	}
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > lv.Width || y+h > lv.Height {
		return nil, fmt.Errorf("tiledbstore: region %d,%d %dx%d outside level size %dx%d",
			x, y, w, h, lv.Width, lv.Height)
	}

	uri := levelURI(s.path, s.series, s.level)
	arr, err := tiledb.NewArray(s.ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: open array %s: %w", uri, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("tiledbstore: open array for read: %w", err)
	}
	defer arr.Close()

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("plane", tiledb.MakeRange[int32](int32(index), int32(index))); err != nil {
		return nil, fmt.Errorf("tiledbstore: add plane range: %w", err)
	}
	if err := sub.AddRangeByName("y", tiledb.MakeRange[int32](int32(y), int32(y+h-1))); err != nil {
		return nil, fmt.Errorf("tiledbstore: add y range: %w", err)
	}
	if err := sub.AddRangeByName("x", tiledb.MakeRange[int32](int32(x), int32(x+w-1))); err != nil {
		return nil, fmt.Errorf("tiledbstore: add x range: %w", err)
	}

	q, err := tiledb.NewQuery(s.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: create query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("tiledbstore: set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("tiledbstore: set layout: %w", err)
	}

	samplesPerPixel := 1
	if sm.ColorNative {
		samplesPerPixel = 3
	}
	n := w * h * samplesPerPixel

	p := &decoder.Plane{Width: w, Height: h}
	switch sm.SampleKind {
	case "uint8":
		p.Kind = decoder.Uint8
		p.U8 = make([]uint8, n)
		_, err = q.SetDataBuffer("samples", p.U8)
	case "uint16":
		p.Kind = decoder.Uint16
		p.U16 = make([]uint16, n)
		_, err = q.SetDataBuffer("samples", p.U16)
	case "float32":
		p.Kind = decoder.Float32
		p.F32 = make([]float32, n)
		_, err = q.SetDataBuffer("samples", p.F32)
	default:
		return nil, fmt.Errorf("tiledbstore: unsupported sample_kind %q", sm.SampleKind)
	}
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: set data buffer: %w", err)
	}

	if err := q.Submit(); err != nil {
		return nil, fmt.Errorf("tiledbstore: query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return nil, fmt.Errorf("tiledbstore: unexpected query status: %v", status)
	}
	return p, nil
}

func (s *session) Close() error {
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}
