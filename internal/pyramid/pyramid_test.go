package pyramid

import (
	"math"
	"testing"

	"github.com/slide-tiles/server/internal/decoder"
)

func TestEstimateDownsample_SnapsToNiceRatio(t *testing.T) {
	tests := []struct {
		name           string
		w0, h0, w, h   int
		want           float64
		exact          bool
	}{
		{"power of two", 4096, 4096, 2048, 2048, 2.0, true},
		{"factor four", 4096, 4096, 1024, 1024, 4.0, true},
		{"near power of two", 40960, 40960, 20481, 20481, 2.0, true},
		{"not nice keeps raw ratio", 4096, 4096, 1365, 1365, 4096.0 / 1365.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateDownsample(tt.w0, tt.h0, tt.w, tt.h)
			if tt.exact {
				if got != tt.want {
					t.Fatalf("EstimateDownsample = %v, want exactly %v", got, tt.want)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("EstimateDownsample = %v, want raw ratio %v", got, tt.want)
			}
			// The raw 3.0008 ratio must not snap to 3.
			if got == 3.0 {
				t.Fatal("ratio snapped to 3.0 but is outside tolerance")
			}
		})
	}
}

func TestEstimateDownsample_UsesLargerAxisRatio(t *testing.T) {
	// Height ratio (2.0) exceeds the width ratio here.
	got := EstimateDownsample(4096, 4096, 2100, 2048)
	if got != 2.0 {
		t.Fatalf("EstimateDownsample = %v, want 2.0 from the larger axis", got)
	}
}

// levelSession fakes a pyramid with fixed per-level dimensions.
type levelSession struct {
	decoder.Session // panics on anything not overridden

	widths  []int
	heights []int
	level   int
}

func (s *levelSession) ResolutionCount() int    { return len(s.widths) }
func (s *levelSession) SetResolution(l int) error { s.level = l; return nil }
func (s *levelSession) SizeX() int              { return s.widths[s.level] }
func (s *levelSession) SizeY() int              { return s.heights[s.level] }

func TestResolve_WalksLevels(t *testing.T) {
	s := &levelSession{
		widths:  []int{40000, 20000, 10000, 5000},
		heights: []int{30000, 15000, 7500, 3750},
	}
	g, err := Resolve(s, "Aperio SVS")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if g.Levels() != 4 {
		t.Fatalf("expected 4 levels, got %d", g.Levels())
	}
	wantDown := []float64{1, 2, 4, 8}
	for i, want := range wantDown {
		if g.Downsamples[i] != want {
			t.Fatalf("level %d downsample = %v, want %v", i, g.Downsamples[i], want)
		}
	}
	if g.LevelWidths[2] != 10000 || g.LevelHeights[2] != 7500 {
		t.Fatalf("level 2 geometry = %dx%d", g.LevelWidths[2], g.LevelHeights[2])
	}
}

func TestResolve_VSIOverridesReportedGeometry(t *testing.T) {
	// VSI level dimensions are unreliable; the resolver must assume 2^level
	// regardless of what the decoder reports.
	s := &levelSession{
		widths:  []int{40000, 13000, 7000},
		heights: []int{30000, 11000, 6000},
	}
	g, err := Resolve(s, VSIFormat)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	wantDown := []float64{1, 2, 4}
	for i, want := range wantDown {
		if g.Downsamples[i] != want {
			t.Fatalf("level %d downsample = %v, want %v", i, g.Downsamples[i], want)
		}
	}
}
