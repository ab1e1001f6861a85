// Package service provides business logic for the tile server.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/slide-tiles/server/internal/cache"
	"github.com/slide-tiles/server/internal/pool"
	"github.com/slide-tiles/server/internal/render"
	"github.com/slide-tiles/server/internal/source"
)

// ImageServiceConfig contains image service configuration.
type ImageServiceConfig struct {
	Pool     *pool.Manager
	Cache    *cache.Manager
	Renderer *render.TileRenderer

	// SourceOptions applies to every image opened through the service.
	SourceOptions source.Options

	// TileSize is the served tile edge in pixels when an image declares no
	// preference of its own.
	TileSize int
}

// ImageService opens images and serves their tiles, metadata and associated
// images. Safe for concurrent use.
type ImageService struct {
	pool     *pool.Manager
	cache    *cache.Manager
	renderer *render.TileRenderer
	srcOpts  source.Options
	tileSize int

	mu     sync.RWMutex
	images map[string]*source.ImageSource
}

// NewImageService creates a new image service.
func NewImageService(cfg ImageServiceConfig) *ImageService {
	tileSize := cfg.TileSize
	if tileSize <= 0 {
		tileSize = 256
	}
	return &ImageService{
		pool:     cfg.Pool,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
		srcOpts:  cfg.SourceOptions,
		tileSize: tileSize,
		images:   make(map[string]*source.ImageSource),
	}
}

// ChannelInfo describes one display channel.
type ChannelInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// LevelInfo describes one pyramid level.
type LevelInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Downsample float64 `json:"downsample"`
}

// ImageInfo is the public description of an opened image.
type ImageInfo struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Format string `json:"format"`

	Width      int `json:"width"`
	Height     int `json:"height"`
	Channels   int `json:"channels"`
	ZSlices    int `json:"z_slices"`
	Timepoints int `json:"timepoints"`

	BitsPerPixel int  `json:"bits_per_pixel"`
	RGB          bool `json:"rgb"`

	TileSize int `json:"tile_size"`

	Levels      []LevelInfo   `json:"levels"`
	ChannelList []ChannelInfo `json:"channel_list"`

	PixelWidthMicrons  *float64 `json:"pixel_width_um,omitempty"`
	PixelHeightMicrons *float64 `json:"pixel_height_um,omitempty"`
	ZSpacingMicrons    *float64 `json:"z_spacing_um,omitempty"`
	Magnification      *float64 `json:"magnification,omitempty"`

	SubImages        []string `json:"sub_images,omitempty"`
	AssociatedImages []string `json:"associated_images,omitempty"`
}

// imageID derives a stable identifier from the canonical image path.
func imageID(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:6])
}

// OpenImage opens the image at path, registering it under a stable id.
// Reopening an already-open path returns the existing registration.
func (s *ImageService) OpenImage(path string) (*ImageInfo, error) {
	src, err := source.Open(s.pool, path, s.srcOpts)
	if err != nil {
		return nil, err
	}

	id := imageID(src.Path())
	s.mu.Lock()
	if existing, ok := s.images[id]; ok {
		s.mu.Unlock()
		src.Close()
		return s.describe(id, existing), nil
	}
	s.images[id] = src
	s.mu.Unlock()

	return s.describe(id, src), nil
}

// CloseImage closes an opened image and drops its registration.
func (s *ImageService) CloseImage(id string) error {
	s.mu.Lock()
	src, ok := s.images[id]
	if ok {
		delete(s.images, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("service: no open image %q", id)
	}
	src.Close()
	return nil
}

// GetImage returns the description of an opened image.
func (s *ImageService) GetImage(id string) (*ImageInfo, error) {
	src, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.describe(id, src), nil
}

// ListImages describes every opened image, ordered by id.
func (s *ImageService) ListImages() []*ImageInfo {
	s.mu.RLock()
	ids := make([]string, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*ImageInfo, 0, len(ids))
	for _, id := range ids {
		if info, err := s.GetImage(id); err == nil {
			out = append(out, info)
		}
	}
	return out
}

func (s *ImageService) lookup(id string) (*source.ImageSource, error) {
	s.mu.RLock()
	src, ok := s.images[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("service: no open image %q", id)
	}
	return src, nil
}

func (s *ImageService) describe(id string, src *source.ImageSource) *ImageInfo {
	g := src.Geometry()
	levels := make([]LevelInfo, g.Levels())
	for i := range levels {
		levels[i] = LevelInfo{
			Width:      g.LevelWidths[i],
			Height:     g.LevelHeights[i],
			Downsample: g.Downsamples[i],
		}
	}

	channels := make([]ChannelInfo, len(src.Channels()))
	for i, ch := range src.Channels() {
		channels[i] = ChannelInfo{
			Name:  ch.Name,
			Color: fmt.Sprintf("#%06x", ch.Color&0xffffff),
		}
	}

	md := src.Metadata()
	info := &ImageInfo{
		ID:               id,
		Path:             src.Path(),
		Format:           src.Format(),
		Width:            src.Width(),
		Height:           src.Height(),
		Channels:         src.NumChannels(),
		ZSlices:          src.NumZSlices(),
		Timepoints:       src.NumTimepoints(),
		BitsPerPixel:     src.BitsPerPixel(),
		RGB:              src.IsRGB(),
		TileSize:         s.tileSizeFor(src),
		Levels:           levels,
		ChannelList:      channels,
		SubImages:        src.PrimaryImageNames(),
		AssociatedImages: src.AssociatedImageNames(),
	}
	info.PixelWidthMicrons = knownFloat(md.PixelWidthMicrons)
	info.PixelHeightMicrons = knownFloat(md.PixelHeightMicrons)
	info.ZSpacingMicrons = knownFloat(md.ZSpacingMicrons)
	info.Magnification = knownFloat(md.Magnification)
	return info
}

func knownFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// tileSizeFor returns the tile edge used for an image: the image's own hint
// when it has one, the service default otherwise.
func (s *ImageService) tileSizeFor(src *source.ImageSource) int {
	if tw := src.Metadata().TileWidth; tw > 0 {
		return tw
	}
	return s.tileSize
}

// GetTilePNG returns the encoded tile at tile coordinates (tx, ty) of a
// pyramid level. Edge tiles are clipped to the level bounds; tiles fully
// outside, or with no readable pixels, come back as the shared empty tile.
func (s *ImageService) GetTilePNG(id string, level, tx, ty, z, t int, colormapName string) ([]byte, error) {
	src, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	g := src.Geometry()
	if level < 0 || level >= g.Levels() {
		return nil, fmt.Errorf("service: level %d out of range [0,%d)", level, g.Levels())
	}
	if z < 0 || z >= src.NumZSlices() || t < 0 || t >= src.NumTimepoints() {
		return nil, fmt.Errorf("service: plane z=%d t=%d out of range", z, t)
	}

	ts := s.tileSizeFor(src)
	x := tx * ts
	y := ty * ts
	if tx < 0 || ty < 0 || x >= g.LevelWidths[level] || y >= g.LevelHeights[level] {
		return nil, fmt.Errorf("service: tile %d/%d outside level %d (%dx%d)",
			tx, ty, level, g.LevelWidths[level], g.LevelHeights[level])
	}

	cacheKey := cache.TileKey(src.Path(), level, tx, ty, z, t) + ":" + colormapName
	if data, ok := s.cache.GetTile(cacheKey); ok {
		return data, nil
	}

	w := ts
	if x+w > g.LevelWidths[level] {
		w = g.LevelWidths[level] - x
	}
	h := ts
	if y+h > g.LevelHeights[level] {
		h = g.LevelHeights[level] - y
	}

	rst := src.ReadTile(source.TileRequest{
		Level: level,
		X:     x, Y: y,
		Width: w, Height: h,
		Z: z, T: t,
	})
	if rst == nil {
		return s.renderer.CreateEmptyTile()
	}

	data, err := s.renderer.RenderTile(rst, colormapName)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	s.cache.SetTile(cacheKey, data)
	return data, nil
}

// GetAssociatedPNG returns a named associated image encoded as PNG, scaled
// down to maxSize on its longer edge when maxSize > 0.
func (s *ImageService) GetAssociatedPNG(id, name string, maxSize int) ([]byte, error) {
	src, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.AssociatedKey(src.Path(), fmt.Sprintf("%s@%d", name, maxSize))
	if data, ok := s.cache.GetArtifact(cacheKey); ok {
		return data, nil
	}

	rst, err := src.AssociatedImage(name)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderScaled(rst, maxSize, "gray")
	if err != nil {
		return nil, fmt.Errorf("failed to render associated image: %w", err)
	}

	s.cache.SetArtifact(cacheKey, data)
	return data, nil
}

// GetEmptyTile returns an empty tile.
func (s *ImageService) GetEmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}

// Stats reports cache statistics.
func (s *ImageService) Stats() map[string]interface{} {
	stats := s.cache.Stats()
	s.mu.RLock()
	stats["open_images"] = len(s.images)
	s.mu.RUnlock()
	return stats
}

// Close closes every open image.
func (s *ImageService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, src := range s.images {
		src.Close()
		delete(s.images, id)
	}
}
