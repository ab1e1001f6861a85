// Package cache provides caching for encoded tiles and small per-image
// artifacts (associated images, metadata documents).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	ArtifactEntries int
}

// Manager manages the tile and artifact caches.
type Manager struct {
	tileCache     *bigcache.BigCache
	artifactCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       256 * 1024, // encoded tile budget
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	artifactCache, err := lru.New[string, []byte](cfg.ArtifactEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}

	return &Manager{
		tileCache:     tileCache,
		artifactCache: artifactCache,
	}, nil
}

// GetTile retrieves an encoded tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores an encoded tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetArtifact retrieves an associated image or metadata document.
func (m *Manager) GetArtifact(key string) ([]byte, bool) {
	return m.artifactCache.Get(key)
}

// SetArtifact stores an associated image or metadata document.
func (m *Manager) SetArtifact(key string, data []byte) {
	m.artifactCache.Add(key, data)
}

// TileKey generates a cache key for one tile of one image. The image path is
// hashed so keys stay short and delimiter-safe regardless of the path
// contents.
func TileKey(path string, level, x, y, z, t int) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("tile:%s:%d/%d/%d:z%d:t%d",
		hex.EncodeToString(h[:8]), level, x, y, z, t)
}

// AssociatedKey generates a cache key for a named associated image.
func AssociatedKey(path, name string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("assoc:%s:%s", hex.EncodeToString(h[:8]), name)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":     m.tileCache.Len(),
		"tile_cache_cap":     m.tileCache.Capacity(),
		"artifact_cache_len": m.artifactCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
