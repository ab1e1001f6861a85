package cache

import (
	"testing"
	"time"
)

func TestTileKey(t *testing.T) {
	t.Run("distinct coordinates", func(t *testing.T) {
		a := TileKey("/data/slide.svs", 0, 0, 0, 0, 0)
		b := TileKey("/data/slide.svs", 0, 256, 0, 0, 0)
		if a == b {
			t.Fatalf("expected distinct keys, got %q", a)
		}
	})

	t.Run("distinct paths", func(t *testing.T) {
		a := TileKey("/data/slide.svs", 1, 0, 0, 0, 0)
		b := TileKey("/data/slide.svs::Scan 2", 1, 0, 0, 0, 0)
		if a == b {
			t.Fatalf("expected sub-image path to change the key, got %q", a)
		}
	})

	t.Run("stable", func(t *testing.T) {
		a := TileKey("/data/slide.svs", 2, 512, 256, 1, 3)
		b := TileKey("/data/slide.svs", 2, 512, 256, 1, 3)
		if a != b {
			t.Fatalf("expected stable key, got %q vs %q", a, b)
		}
	})
}

func TestManager_TileRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		ArtifactEntries: 16,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	defer m.Close()

	key := TileKey("/data/slide.svs", 0, 0, 0, 0, 0)
	if _, ok := m.GetTile(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := m.SetTile(key, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetTile error: %v", err)
	}
	data, ok := m.GetTile(key)
	if !ok || len(data) != 3 || data[0] != 1 {
		t.Fatalf("GetTile = %v, %v", data, ok)
	}
}

func TestManager_Artifacts(t *testing.T) {
	m, err := NewManager(Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		ArtifactEntries: 2,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	defer m.Close()

	m.SetArtifact(AssociatedKey("/data/a.svs", "label"), []byte("a"))
	m.SetArtifact(AssociatedKey("/data/b.svs", "label"), []byte("b"))
	m.SetArtifact(AssociatedKey("/data/c.svs", "label"), []byte("c"))

	// Oldest entry evicted by the LRU bound.
	if _, ok := m.GetArtifact(AssociatedKey("/data/a.svs", "label")); ok {
		t.Fatal("expected oldest artifact to be evicted")
	}
	if data, ok := m.GetArtifact(AssociatedKey("/data/c.svs", "label")); !ok || string(data) != "c" {
		t.Fatalf("artifact = %q, %v", data, ok)
	}
}
