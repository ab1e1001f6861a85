package chunked

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// probeIndex is the memoized result of the open-time probe pass: one entry
// per plane file with its compressed byte size. A store whose plane set does
// not match its index is re-probed from scratch.
type probeIndex struct {
	FormatVersion string           `json:"format_version"`
	Planes        map[string]int64 `json:"planes"`
}

func planeKey(series, level, index int) string {
	return fmt.Sprintf("%d/%d/%d", series, level, index)
}

// memoPath returns the sidecar location for a store: inside memoDir (keyed
// by a path hash) when one is configured, next to the store otherwise.
func memoPath(memoDir, storePath string) string {
	if memoDir == "" {
		return storePath + ".idx.zst"
	}
	sum := sha256.Sum256([]byte(storePath))
	return filepath.Join(memoDir, hex.EncodeToString(sum[:16])+".idx.zst")
}

// buildProbeIndex walks every plane file the metadata declares and records
// its size. This is the expensive part of opening a store.
func buildProbeIndex(base string, meta *storeMeta) (*probeIndex, error) {
	idx := &probeIndex{
		FormatVersion: meta.FormatVersion,
		Planes:        make(map[string]int64),
	}
	for s, sm := range meta.Series {
		nPlanes := sm.SizeC * sm.SizeZ * sm.SizeT
		for l := range sm.Levels {
			for p := 0; p < nPlanes; p++ {
				fi, err := os.Stat(planePath(base, s, l, p))
				if err != nil {
					return nil, fmt.Errorf("chunked: probe series %d level %d plane %d: %w", s, l, p, err)
				}
				idx.Planes[planeKey(s, l, p)] = fi.Size()
			}
		}
	}
	return idx, nil
}

func readProbeIndex(path string, dec *zstd.Decoder) (*probeIndex, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("chunked: decompress probe index: %w", err)
	}
	var idx probeIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("chunked: parse probe index: %w", err)
	}
	return &idx, nil
}

func writeProbeIndex(path string, idx *probeIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// expectedPlaneCount returns the total number of plane files the metadata
// declares, used to sanity-check a memoized index.
func expectedPlaneCount(meta *storeMeta) int {
	total := 0
	for _, sm := range meta.Series {
		total += sm.SizeC * sm.SizeZ * sm.SizeT * len(sm.Levels)
	}
	return total
}
