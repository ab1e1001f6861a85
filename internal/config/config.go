// Package config handles configuration loading for the tile server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Decoder DecoderConfig `yaml:"decoder"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DecoderConfig contains decoding engine and reader pool settings.
type DecoderConfig struct {
	// MemoDir holds probe-index sidecars. Empty writes them next to each
	// image store.
	MemoDir string `yaml:"memo_dir"`

	// DisableMemoization turns the probe-index sidecars off entirely.
	DisableMemoization bool `yaml:"disable_memoization"`

	// Parallelize opens per-worker sessions for large, lightweight images.
	Parallelize bool `yaml:"parallelize"`

	// ParallelizeChannels decodes multi-channel tiles concurrently.
	ParallelizeChannels bool `yaml:"parallelize_channels"`

	// VSIFixChannelZ enables the CellSens VSI channel/z workaround.
	VSIFixChannelZ bool `yaml:"vsi_fix_channel_z"`

	// OpenImages lists image paths opened at startup.
	OpenImages []string `yaml:"open_images"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB      int `yaml:"tile_size_mb"`
	TileTTLMinutes  int `yaml:"tile_ttl_minutes"`
	ArtifactEntries int `yaml:"artifact_entries"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Decoder: DecoderConfig{},
		Cache: CacheConfig{
			TileSizeMB:      512,
			TileTTLMinutes:  10,
			ArtifactEntries: 128,
		},
		Render: RenderConfig{
			TileSize:        256,
			DefaultColormap: "gray",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.ArtifactEntries == 0 {
		cfg.Cache.ArtifactEntries = defaults.Cache.ArtifactEntries
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
}
