// Package pyramid resolves multi-resolution level geometry and downsample
// factors for an opened image series.
package pyramid

import (
	"fmt"
	"math"

	"github.com/slide-tiles/server/internal/decoder"
)

// VSIFormat is the one vendor container whose reported level geometry is
// unreliable; its downsamples are assumed to be powers of two. The override
// is keyed on this exact format name and must not be generalized.
const VSIFormat = "CellSens VSI"

// Ratios within this relative tolerance of a "nice" factor snap to it.
const snapTolerance = 1e-4

// Common pyramid factors, checked in order.
var niceFactors = []float64{2, 3, 4, 5, 6, 8, 10, 12, 16, 24, 32, 48, 64, 128, 256, 512, 1024}

// Geometry holds the per-level dimensions and downsample factors of one
// series. Immutable after Resolve.
type Geometry struct {
	LevelWidths  []int
	LevelHeights []int
	Downsamples  []float64
}

// Levels returns the number of resolution levels.
func (g *Geometry) Levels() int { return len(g.Downsamples) }

// EstimateDownsample estimates the downsample factor of a level with
// dimensions (w, h) relative to the full-resolution (w0, h0). The raw ratio
// max(w0/w, h0/h) snaps to the nearest common pyramid factor when within a
// small relative tolerance, and is kept as-is otherwise.
func EstimateDownsample(w0, h0, w, h int) float64 {
	rx := float64(w0) / float64(w)
	ry := float64(h0) / float64(h)
	ratio := math.Max(rx, ry)
	for _, nice := range niceFactors {
		if math.Abs(ratio-nice)/nice <= snapTolerance {
			return nice
		}
	}
	return ratio
}

// Resolve walks the resolution levels of the session's active series and
// records width, height and downsample per level. The caller must hold the
// session's critical section and have selected the series; the resolution
// cursor is left at the lowest level walked.
func Resolve(s decoder.Session, format string) (*Geometry, error) {
	n := s.ResolutionCount()
	if n < 1 {
		return nil, fmt.Errorf("pyramid: series reports %d resolution levels", n)
	}

	g := &Geometry{
		LevelWidths:  make([]int, n),
		LevelHeights: make([]int, n),
		Downsamples:  make([]float64, n),
	}

	if err := s.SetResolution(0); err != nil {
		return nil, fmt.Errorf("pyramid: select level 0: %w", err)
	}
	w0 := s.SizeX()
	h0 := s.SizeY()
	if w0 <= 0 || h0 <= 0 {
		return nil, fmt.Errorf("pyramid: invalid full-resolution size %dx%d", w0, h0)
	}
	g.LevelWidths[0] = w0
	g.LevelHeights[0] = h0
	g.Downsamples[0] = 1.0

	for i := 1; i < n; i++ {
		if err := s.SetResolution(i); err != nil {
			return nil, fmt.Errorf("pyramid: select level %d: %w", i, err)
		}
		w := s.SizeX()
		h := s.SizeY()
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("pyramid: invalid level %d size %dx%d", i, w, h)
		}
		g.LevelWidths[i] = w
		g.LevelHeights[i] = h

		if format == VSIFormat {
			g.Downsamples[i] = math.Pow(2, float64(i))
		} else {
			g.Downsamples[i] = EstimateDownsample(w0, h0, w, h)
		}
	}

	return g, nil
}
