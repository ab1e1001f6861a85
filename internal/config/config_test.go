package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("default port %d", cfg.Server.Port)
	}
	if cfg.Render.TileSize != 256 || cfg.Render.DefaultColormap != "gray" {
		t.Fatalf("default render config %+v", cfg.Render)
	}
	if cfg.Cache.TileSizeMB != 512 {
		t.Fatalf("default cache size %d", cfg.Cache.TileSizeMB)
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
server:
  port: 9090
decoder:
  parallelize: true
  vsi_fix_channel_z: true
  memo_dir: /var/cache/tiles
  open_images:
    - /data/slide1.pyr
    - /data/slide2.pyr
render:
  tile_size: 512
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		t.Fatal("missing CORS origins should fall back to defaults")
	}
	if !cfg.Decoder.Parallelize || !cfg.Decoder.VSIFixChannelZ {
		t.Fatalf("decoder flags %+v", cfg.Decoder)
	}
	if cfg.Decoder.MemoDir != "/var/cache/tiles" {
		t.Fatalf("memo dir %q", cfg.Decoder.MemoDir)
	}
	if len(cfg.Decoder.OpenImages) != 2 {
		t.Fatalf("open images %v", cfg.Decoder.OpenImages)
	}
	if cfg.Render.TileSize != 512 {
		t.Fatalf("tile size %d", cfg.Render.TileSize)
	}
	if cfg.Cache.TileTTLMinutes != 10 {
		t.Fatalf("cache TTL %d", cfg.Cache.TileTTLMinutes)
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not: a: mapping"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
