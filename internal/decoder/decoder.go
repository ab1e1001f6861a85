// Package decoder defines the boundary to the pixel-decoding engines.
//
// A Session is a stateful decoding cursor bound to one file: the active
// series and resolution must be set before every read, and a single Session
// must not be used from multiple goroutines without external synchronization.
// Engines are registered by the caller (see internal/data/chunked for the
// bundled one); this package only fixes the contract.
package decoder

import "fmt"

// SampleKind identifies the storage type of a decoded plane.
type SampleKind uint8

const (
	Uint8 SampleKind = iota
	Uint16
	Float32
)

// Bits returns the number of bits per sample.
func (k SampleKind) Bits() int {
	switch k {
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Float32:
		return 32
	}
	return 0
}

func (k SampleKind) String() string {
	switch k {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("SampleKind(%d)", uint8(k))
}

// Plane is one decoded 2D single-channel slice. Exactly one of the sample
// slices is populated, selected by Kind; the others are nil.
type Plane struct {
	Width  int
	Height int
	Kind   SampleKind

	U8  []uint8
	U16 []uint16
	F32 []float32
}

// Len returns the number of samples the populated buffer holds.
func (p *Plane) Len() int {
	switch p.Kind {
	case Uint8:
		return len(p.U8)
	case Uint16:
		return len(p.U16)
	case Float32:
		return len(p.F32)
	}
	return 0
}

// Metadata carries the optional descriptive metadata captured when a session
// is opened with metadata capture enabled. Unknown numeric fields are NaN;
// unknown slices are nil.
type Metadata struct {
	PixelWidthMicrons  float64
	PixelHeightMicrons float64
	ZSpacingMicrons    float64
	Magnification      float64

	// Delta-T per timepoint, in seconds. Nil unless the file records timings.
	TimePointsSeconds []float64

	// Preferred decode tile size reported by the engine. Zero when unknown.
	OptimalTileWidth  int
	OptimalTileHeight int

	// Per-channel display metadata for the series. Colors are packed RGBA
	// values; a zero entry means the file declares no color for the channel.
	ChannelNames  []string
	ChannelColors []uint32
}

// Session is one native decoding session bound to a single file.
//
// The cursor (series, resolution) is mutable shared state: callers must set
// both before decoding and must serialize all calls on a given Session.
type Session interface {
	// Path returns the file path this session is bound to.
	Path() string

	// Format names the container format, e.g. "CellSens VSI".
	Format() string

	SeriesCount() int
	SetSeries(s int) error
	Series() int
	SeriesName(s int) string

	// IsThumbnailSeries reports whether the active series is declared a
	// thumbnail by the container.
	IsThumbnailSeries() bool

	ResolutionCount() int
	SetResolution(level int) error

	// Dimensions of the active series at the active resolution.
	SizeX() int
	SizeY() int
	SizeC() int
	SizeZ() int
	SizeT() int

	BitsPerPixel() int

	// IsColorNative reports whether the active series stores interleaved
	// color samples (RGB-like) rather than separate channel planes.
	IsColorNative() bool

	// PlaneIndex computes the linear plane index for (z, channel, timepoint)
	// in the engine's native plane order.
	PlaneIndex(z, c, t int) int

	// DecodePlane reads the (x, y, w, h) region of one plane at the active
	// series and resolution. Coordinates are in the native pixel space of
	// the active resolution.
	DecodePlane(index, x, y, w, h int) (*Plane, error)

	// Metadata returns captured metadata for a series, or nil when the
	// session was opened without metadata capture.
	Metadata(series int) *Metadata

	Close() error
}

// OpenFunc opens a new Session for a path. Sessions opened with capture=false
// skip the metadata pass and are cheaper to construct.
type OpenFunc func(path string, capture bool) (Session, error)
