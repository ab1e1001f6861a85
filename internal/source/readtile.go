package source

import (
	"fmt"
	"log"
	"sync"

	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/pool"
	"github.com/slide-tiles/server/internal/raster"
)

// TileRequest addresses one tile: a resolution level, a pixel region in that
// level's coordinate space, and the z slice and timepoint.
type TileRequest struct {
	Level         int
	X, Y          int
	Width, Height int
	Z, T          int
}

// ReadTile decodes one tile. Failures never propagate: an unreadable tile is
// logged and returned as nil, so a single bad region cannot take down a
// viewer painting hundreds of tiles.
func (src *ImageSource) ReadTile(req TileRequest) *raster.Raster {
	if req.Width <= 0 || req.Height <= 0 {
		log.Printf("source: %s: unable to request pixels for region with downsampled size %dx%d",
			src.path, req.Width, req.Height)
		return nil
	}

	var (
		r   *raster.Raster
		err error
	)
	if src.mgr.ParallelismEligible(src.filePath, src.width, src.height, src.opts.Parallelize) {
		w := src.mgr.GetWorker()
		defer src.mgr.PutWorker(w)

		var s decoder.Session
		if s, err = w.Bind(src.filePath); err == nil {
			r, err = src.readTileOn(s, req, true)
		}
	} else {
		var h *pool.Handle
		if h, err = src.mgr.AcquireShared(src, src.filePath); err == nil {
			err = h.Do(func(s decoder.Session) error {
				r, err = src.readTileOn(s, req, false)
				return err
			})
		}
	}
	if err != nil {
		log.Printf("source: %s: reading tile level=%d region=%d,%d %dx%d z=%d t=%d: %v",
			src.path, req.Level, req.X, req.Y, req.Width, req.Height, req.Z, req.T, err)
		return nil
	}
	return r
}

// readTileOn decodes the requested tile on an already-bound session. The
// caller holds whatever exclusivity the session requires; exclusive reports
// whether this goroutine owns the session outright, which permits the
// concurrent channel fan-out.
func (src *ImageSource) readTileOn(s decoder.Session, req TileRequest, exclusive bool) (*raster.Raster, error) {
	if err := s.SetSeries(src.series); err != nil {
		return nil, err
	}
	if err := s.SetResolution(req.Level); err != nil {
		return nil, err
	}

	// Packed color and single-channel images need exactly one plane.
	if src.colorNative || src.nChannels == 1 {
		idx := s.PlaneIndex(src.planeZ(0, req.Z), src.planeC(0), req.T)
		p, err := s.DecodePlane(idx, req.X, req.Y, req.Width, req.Height)
		if err != nil {
			return nil, err
		}
		return raster.FromPlane(p, src.colorNative, src.colors), nil
	}

	planes := make([]*decoder.Plane, src.nChannels)
	if exclusive && src.opts.ParallelizeChannels && !src.noParallelChannels.Load() {
		src.decodeChannelsParallel(s, req, planes)
	} else {
		for c := range planes {
			idx := s.PlaneIndex(src.planeZ(c, req.Z), src.planeC(c), req.T)
			p, err := s.DecodePlane(idx, req.X, req.Y, req.Width, req.Height)
			if err != nil {
				log.Printf("source: %s: channel %d decode failed: %v", src.path, c, err)
				continue
			}
			planes[c] = p
		}
	}

	if src.isRGB {
		if r, err := raster.MergeInterleaved(planes, src.colors); err == nil {
			return r, nil
		}
		// Fall back to banded assembly with whatever channels survived.
	}
	return raster.MergePlanes(planes, src.colors)
}

// decodeChannelsParallel fans the channel decodes of one tile out across
// goroutines sharing the exclusive session. Engines generally tolerate this
// for plane-separated formats; the first failure latches the source back to
// sequential decoding for good, and the failed channel is left absent.
func (src *ImageSource) decodeChannelsParallel(s decoder.Session, req TileRequest, planes []*decoder.Plane) {
	var wg sync.WaitGroup
	for c := range planes {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			idx := s.PlaneIndex(src.planeZ(c, req.Z), src.planeC(c), req.T)
			p, err := s.DecodePlane(idx, req.X, req.Y, req.Width, req.Height)
			if err != nil {
				src.noParallelChannels.Store(true)
				log.Printf("source: %s: parallel channel %d decode failed, disabling parallel channels: %v",
					src.path, c, err)
				return
			}
			planes[c] = p
		}(c)
	}
	wg.Wait()
}

// planeZ and planeC map the logical (channel, z) request onto the decoder's
// plane coordinates, routing channels through the z slot for conflated VSI
// series.
func (src *ImageSource) planeZ(c, z int) int {
	if src.channelZConflated {
		return c
	}
	return z
}

func (src *ImageSource) planeC(c int) int {
	if src.channelZConflated {
		return 0
	}
	return c
}

// AssociatedImage decodes a named associated image (label, overview,
// thumbnail) in full. Unlike ReadTile, failures are returned: callers request
// associated images deliberately, not in a paint loop.
func (src *ImageSource) AssociatedImage(name string) (*raster.Raster, error) {
	target := -1
	for _, a := range src.associated {
		if a.name == name {
			target = a.index
			break
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("source: no associated image %q in %s", name, src.filePath)
	}

	h, err := src.mgr.AcquireShared(src, src.filePath)
	if err != nil {
		return nil, err
	}

	var r *raster.Raster
	err = h.Do(func(s decoder.Session) error {
		if err := s.SetSeries(target); err != nil {
			return err
		}
		if err := s.SetResolution(0); err != nil {
			return err
		}
		p, err := s.DecodePlane(s.PlaneIndex(0, 0, 0), 0, 0, s.SizeX(), s.SizeY())
		if err != nil {
			return fmt.Errorf("source: read associated image %q: %w", name, err)
		}
		r = raster.FromPlane(p, s.IsColorNative(), nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
